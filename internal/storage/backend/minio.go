package backend

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/minio"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// MinIOBackend serves OBJECT_STORE_A nodes
type MinIOBackend struct {
	creds   CredentialResolver
	opts    Options
	logger  *zap.Logger
	clients *clientCache[*minio.Client]
	buckets sync.Map // nodeID/bucket -> struct{}
}

// NewMinIOBackend creates the MinIO adapter
func NewMinIOBackend(creds CredentialResolver, opts Options, logger *zap.Logger) *MinIOBackend {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOBackend{
		creds:   creds,
		opts:    opts,
		logger:  logger.Named("minio-backend"),
		clients: newClientCache[*minio.Client](),
	}
}

// splitEndpoint strips a URL scheme; https forces TLS
func splitEndpoint(endpoint string, useSSL bool) (host string, secure bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

func (b *MinIOBackend) client(node *biz.StorageNode) (*minio.Client, error) {
	return b.clients.get(node, func() (*minio.Client, error) {
		accessKey, secretKey, err := credentials(b.creds, node)
		if err != nil {
			return nil, err
		}
		host, secure := splitEndpoint(node.Endpoint, node.UseSSL)
		return minio.NewClient(&minio.Config{
			Endpoint:        host,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Region:          node.Region,
			UseSSL:          secure,
		}, b.logger)
	})
}

func (b *MinIOBackend) ensureBucket(ctx context.Context, c *minio.Client, node *biz.StorageNode, bucket string) error {
	key := node.NodeID + "/" + bucket
	if _, ok := b.buckets.Load(key); ok {
		return nil
	}
	if err := c.EnsureBucket(ctx, bucket, node.Region); err != nil {
		return err
	}
	b.buckets.Store(key, struct{}{})
	return nil
}

// Store writes the object and returns "bucket/key" as its physical path
func (b *MinIOBackend) Store(ctx context.Context, node *biz.StorageNode, req *biz.StoreRequest) (res *biz.StorageResult, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "store", start, err, minio.IsNotFound) }()

	c, err := b.client(node)
	if err != nil {
		return nil, err
	}
	if err = b.ensureBucket(ctx, c, node, req.Bucket); err != nil {
		return nil, err
	}
	key := objectKey(req)
	info, err := c.PutObject(ctx, req.Bucket, key, req.Body, req.Size, minio.PutObjectOptions{ContentType: req.ContentType})
	if err != nil {
		return nil, err
	}
	return &biz.StorageResult{
		PhysicalPath: req.Bucket + "/" + key,
		Bucket:       req.Bucket,
		ETag:         info.ETag,
		BytesWritten: info.Size,
		Region:       node.Region,
	}, nil
}

// Retrieve opens the object for reading
func (b *MinIOBackend) Retrieve(ctx context.Context, node *biz.StorageNode, physicalPath string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "retrieve", start, err, minio.IsNotFound) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return nil, err
	}
	c, err := b.client(node)
	if err != nil {
		return nil, err
	}
	return c.GetObject(ctx, bucket, key)
}

// Delete removes the object; a missing object is reported as not found
func (b *MinIOBackend) Delete(ctx context.Context, node *biz.StorageNode, physicalPath string) (err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "delete", start, err, minio.IsNotFound) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return err
	}
	c, err := b.client(node)
	if err != nil {
		return err
	}
	return c.RemoveObject(ctx, bucket, key)
}

// Exists reports whether the object is present
func (b *MinIOBackend) Exists(ctx context.Context, node *biz.StorageNode, physicalPath string) (ok bool, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "exists", start, err, nil) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return false, err
	}
	c, err := b.client(node)
	if err != nil {
		return false, err
	}
	return c.ObjectExists(ctx, bucket, key)
}

// PresignURL signs a GET URL. When the node has a public URL the signed
// request is re-hosted onto it.
func (b *MinIOBackend) PresignURL(ctx context.Context, node *biz.StorageNode, physicalPath string, expiry time.Duration) (signed string, err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "presign", start, err, nil) }()

	bucket, key, err := splitObjectPath(physicalPath)
	if err != nil {
		return "", err
	}
	c, err := b.client(node)
	if err != nil {
		return "", err
	}
	u, err := c.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return rehost(u, node.PublicURL), nil
}

// rehost swaps scheme and host for the public address
func rehost(u *url.URL, publicURL string) string {
	if publicURL == "" {
		return u.String()
	}
	pub, err := url.Parse(publicURL)
	if err != nil || pub.Host == "" {
		return u.String()
	}
	out := *u
	out.Scheme = pub.Scheme
	out.Host = pub.Host
	return out.String()
}

// Ping checks the node's configured bucket, or the service when none is set
func (b *MinIOBackend) Ping(ctx context.Context, node *biz.StorageNode) (err error) {
	start := time.Now()
	defer func() { err = observe(biz.BackendObjectStoreA, node, "ping", start, err, nil) }()

	c, err := b.client(node)
	if err != nil {
		return err
	}
	return c.Ping(ctx, node.Bucket)
}

// Close releases all cached clients
func (b *MinIOBackend) Close() error {
	b.clients.closeAll()
	return nil
}
