package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
)

// PutObjectOptions represents options for uploading an object
type PutObjectOptions struct {
	ContentType  string
	UserMetadata map[string]string
}

// UploadInfo represents information about an uploaded object
type UploadInfo struct {
	Bucket    string
	Key       string
	ETag      string
	Size      int64
	VersionID string
}

// ObjectInfo represents object information
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// PutObject uploads an object. objectSize of -1 streams with multipart.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts PutObjectOptions) (UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return UploadInfo{}, err
	}
	if err := ValidateObjectName(objectName); err != nil {
		return UploadInfo{}, WrapError("PutObject", ErrInvalidObjectName, bucketName)
	}

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType:  contentTypeFor(objectName, opts.ContentType),
		UserMetadata: opts.UserMetadata,
	})
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucketName)
	}

	return UploadInfo{
		Bucket:    info.Bucket,
		Key:       info.Key,
		ETag:      info.ETag,
		Size:      info.Size,
		VersionID: info.VersionID,
	}, nil
}

// GetObject opens an object for reading. The object is stat'ed first so a
// missing key fails here rather than on the first Read.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	obj, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, WrapError("GetObject", err, bucketName)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, WrapError("GetObject", err, bucketName)
	}
	return obj, nil
}

// StatObject returns object metadata
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName)
	}
	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
	}, nil
}

// ObjectExists reports whether the object exists
func (c *Client) ObjectExists(ctx context.Context, bucketName, objectName string) (bool, error) {
	_, err := c.StatObject(ctx, bucketName, objectName)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// RemoveObject deletes an object. Removing a missing key succeeds.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("RemoveObject", err, bucketName)
	}
	return nil
}
