package minio

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// MaxPresignExpiry is the longest expiry the S3 signature scheme accepts
const MaxPresignExpiry = 7 * 24 * time.Hour

// PresignedGetObject generates a presigned URL for HTTP GET operations
func (c *Client) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if expiry <= 0 || expiry > MaxPresignExpiry {
		return nil, WrapError("PresignedGetObject", fmt.Errorf("%w: expiry %s", ErrInvalidArgument, expiry), bucketName)
	}

	u, err := c.client.PresignedGetObject(ctx, bucketName, objectName, expiry, reqParams)
	if err != nil {
		return nil, WrapError("PresignedGetObject", err, bucketName)
	}
	return u, nil
}
