package minio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// BucketExists checks if a bucket exists
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return false, WrapError("BucketExists", err, bucketName)
	}
	return exists, nil
}

// EnsureBucket creates the bucket if it does not exist yet. Losing a creation
// race to another writer is not an error.
func (c *Client) EnsureBucket(ctx context.Context, bucketName, region string) error {
	if err := ValidateBucketName(bucketName); err != nil {
		return WrapErrorWithMessage("EnsureBucket", ErrInvalidBucketName, err.Error())
	}

	exists, err := c.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: region})
	if err != nil && !IsBucketAlreadyExists(err) {
		return WrapError("MakeBucket", err, bucketName)
	}

	c.logger.Info("bucket created", zap.String("bucket", bucketName), zap.String("region", region))
	return nil
}
