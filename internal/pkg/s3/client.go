package s3

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Client wraps the AWS S3 client with bucket management and presigning
type Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	config  *Config
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// PutResult describes an uploaded object
type PutResult struct {
	ETag      string
	VersionID string
}

// NewClient creates a client with static credentials
func NewClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxAttempts),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, &Error{Op: "LoadConfig", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("s3 client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", cfg.Region),
		zap.Bool("path_style", cfg.UsePathStyle),
	)

	return &Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Region returns the resolved region
func (c *Client) Region() string {
	return c.config.Region
}

// Ping checks that bucket is reachable
func (c *Client) Ping(ctx context.Context, bucket string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if bucket == "" {
		_, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
		return wrap("ListBuckets", "", err)
	}
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return wrap("HeadBucket", bucket, err)
}

// EnsureBucket creates the bucket when HeadBucket reports it missing
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return wrap("HeadBucket", bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if c.config.Region != DefaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.config.Region),
		}
	}
	if _, err := c.client.CreateBucket(ctx, in); err != nil && !IsBucketOwned(err) {
		return wrap("CreateBucket", bucket, err)
	}

	c.logger.Info("bucket created", zap.String("bucket", bucket), zap.String("region", c.config.Region))
	return nil
}

// PutObject uploads body. size < 0 lets the SDK stream without a length,
// which requires a seekable body.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*PutResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := c.client.PutObject(ctx, in)
	if err != nil {
		return nil, wrap("PutObject", bucket, err)
	}
	return &PutResult{ETag: aws.ToString(out.ETag), VersionID: aws.ToString(out.VersionId)}, nil
}

// GetObject opens an object body
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, wrap("GetObject", bucket, err)
	}
	return out.Body, nil
}

// ObjectExists issues HeadObject; only a not-found answer maps to false
func (c *Client) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, wrap("HeadObject", bucket, err)
}

// DeleteObject removes a key. S3 treats deleting a missing key as success.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return wrap("DeleteObject", bucket, err)
}

// PresignGetObject returns a time-limited GET URL
func (c *Client) PresignGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	req, err := c.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return nil, wrap("PresignGetObject", bucket, err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, wrap("PresignGetObject", bucket, err)
	}
	return u, nil
}

// Close marks the client closed
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}
