package backend

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/s3"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// S3Backend serves OBJECT_STORE_B nodes
type S3Backend struct {
	creds   CredentialResolver
	opts    Options
	logger  *zap.Logger
	clients *clientCache[*s3.Client]
	buckets sync.Map
}

// NewS3Backend creates the S3 adapter
func NewS3Backend(creds CredentialResolver, opts Options, logger *zap.Logger) *S3Backend {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Backend{
		creds:   creds,
		opts:    opts,
		logger:  logger.Named("s3-backend"),
		clients: newClientCache[*s3.Client](),
	}
}

// s3Endpoint adds https:// to bare hosts; AWS hosts use virtual-hosted style
func s3Endpoint(node *biz.StorageNode) (endpoint string, pathStyle bool) {
	endpoint = strings.TrimSuffix(node.Endpoint, "/")
	if endpoint == "" {
		return "", false
	}
	if !strings.Contains(endpoint, "://") {
		if node.UseSSL || !strings.Contains(endpoint, ":") {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return endpoint, !strings.Contains(endpoint, "amazonaws.com")
}

func (b *S3Backend) client(ctx context.Context, node *biz.StorageNode) (*s3.Client, error) {
	return b.clients.get(node, func() (*s3.Client, error) {
		accessKey, secretKey, err := credentials(b.creds, node)
		if err != nil {
			return nil, err
		}
		endpoint, pathStyle := s3Endpoint(node)
		return s3.NewClient(context.WithoutCancel(ctx), &s3.Config{
			Endpoint:        endpoint,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Region:          node.Region,
			UsePathStyle:    pathStyle,
		}, b.logger)
	})
}

// Store writes the object and returns "bucket/key" with the resolved region
func (b *S3Backend) Store(ctx context.Context, node *biz.StorageNode, req *biz.StoreRequest) (res *biz.StorageResult, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "store", start, err, s3.IsNotFound) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return nil, err
	}
	key := node.NodeID + "/" + req.Bucket
	if _, ok := b.buckets.Load(key); !ok {
		if err = c.EnsureBucket(ctx, req.Bucket); err != nil {
			return nil, err
		}
		b.buckets.Store(key, struct{}{})
	}

	objKey := objectKey(req)
	put, err := c.PutObject(ctx, req.Bucket, objKey, req.Body, req.Size, req.ContentType)
	if err != nil {
		return nil, err
	}
	return &biz.StorageResult{
		PhysicalPath: req.Bucket + "/" + objKey,
		Bucket:       req.Bucket,
		ETag:         strings.Trim(put.ETag, `"`),
		BytesWritten: req.Size,
		Region:       c.Region(),
	}, nil
}

// Retrieve opens the object for reading
func (b *S3Backend) Retrieve(ctx context.Context, node *biz.StorageNode, physicalPath string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "retrieve", start, err, s3.IsNotFound) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return nil, err
	}
	c, err := b.client(ctx, node)
	if err != nil {
		return nil, err
	}
	return c.GetObject(ctx, bucket, key)
}

// Delete removes the object. S3 deletes are idempotent, so a missing object
// is checked first to keep the not-found contract.
func (b *S3Backend) Delete(ctx context.Context, node *biz.StorageNode, physicalPath string) (err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "delete", start, err, s3.IsNotFound) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return err
	}
	c, err := b.client(ctx, node)
	if err != nil {
		return err
	}
	ok, err := c.ObjectExists(ctx, bucket, key)
	if err != nil {
		return err
	}
	if !ok {
		return s3.ErrObjectNotFound
	}
	return c.DeleteObject(ctx, bucket, key)
}

// Exists reports whether the object is present
func (b *S3Backend) Exists(ctx context.Context, node *biz.StorageNode, physicalPath string) (ok bool, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "exists", start, err, nil) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return false, err
	}
	c, err := b.client(ctx, node)
	if err != nil {
		return false, err
	}
	return c.ObjectExists(ctx, bucket, key)
}

// PresignURL signs a GET URL, re-hosted onto the node's public URL if set
func (b *S3Backend) PresignURL(ctx context.Context, node *biz.StorageNode, physicalPath string, expiry time.Duration) (signed string, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "presign", start, err, nil) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return "", err
	}
	c, err := b.client(ctx, node)
	if err != nil {
		return "", err
	}
	u, err := c.PresignGetObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", err
	}
	return rehost(u, node.PublicURL), nil
}

// Ping checks the node's bucket, or lists buckets when none is configured
func (b *S3Backend) Ping(ctx context.Context, node *biz.StorageNode) (err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreB, node, "ping", start, err, nil) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return err
	}
	return c.Ping(ctx, node.Bucket)
}

// Close releases all cached clients
func (b *S3Backend) Close() error {
	b.clients.closeAll()
	return nil
}
