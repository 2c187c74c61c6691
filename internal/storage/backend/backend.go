// Package backend adapts MinIO, S3 and SFTP servers to biz.StorageBackend
// and routes each call by the node's backend type.
package backend

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"golang.org/x/sync/singleflight"
)

// CredentialResolver decrypts node credentials at connection time
type CredentialResolver interface {
	DecryptCredential(blob string) (string, error)
}

// Options tunes adapter behaviour
type Options struct {
	// SFTPKnownHostsFile verifies transfer server host keys (optional)
	SFTPKnownHostsFile string
	// SFTPInsecureHostKey accepts any host key when no known_hosts file is set
	SFTPInsecureHostKey bool
	// SFTPDialTimeout bounds a single SSH handshake
	SFTPDialTimeout time.Duration
	// SFTPDialRetries is the number of dial attempts per connection
	SFTPDialRetries uint
	// OperationTimeout bounds single backend calls that carry no deadline
	OperationTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 5 * time.Minute
	}
}

// observe records metrics and maps adapter errors into the error taxonomy
func observe(backend biz.BackendType, node *biz.StorageNode, op string, start time.Time, err error, notFound func(error) bool) error {
	metrics.RecordBackendOperation(string(backend), op, time.Since(start), err)
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	if notFound != nil && notFound(err) {
		return apperrors.Wrap(err, apperrors.ErrObjectNotFound,
			fmt.Sprintf("%s %s on node %s", backend, op, node.NodeID))
	}
	return apperrors.NewBackendError(err, string(backend), node.NodeID, op)
}

// splitObjectPath splits "bucket/key" physical paths used by object stores
func splitObjectPath(physicalPath string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(physicalPath, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", apperrors.New(apperrors.ErrInvalidParams, "malformed object store location")
	}
	return bucket, key, nil
}

func objectKey(req *biz.StoreRequest) string {
	return strings.TrimPrefix(path.Join(req.BasePath, req.FileName), "/")
}

// clientCache keeps one client per node and rebuilds it when the node's
// registration changes. Concurrent misses for the same node share one dial.
type clientCache[T io.Closer] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	group   singleflight.Group
}

type cacheEntry[T io.Closer] struct {
	version time.Time
	client  T
}

func newClientCache[T io.Closer]() *clientCache[T] {
	return &clientCache[T]{entries: make(map[string]cacheEntry[T])}
}

func (c *clientCache[T]) get(node *biz.StorageNode, build func() (T, error)) (T, error) {
	c.mu.RLock()
	e, ok := c.entries[node.NodeID]
	c.mu.RUnlock()
	if ok && e.version.Equal(node.UpdatedAt) {
		return e.client, nil
	}

	key := node.NodeID + "@" + node.UpdatedAt.Format(time.RFC3339Nano)
	v, err, _ := c.group.Do(key, func() (any, error) {
		client, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		old, had := c.entries[node.NodeID]
		c.entries[node.NodeID] = cacheEntry[T]{version: node.UpdatedAt, client: client}
		c.mu.Unlock()
		if had {
			old.client.Close()
		}
		return client, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// evict drops a node's client, e.g. after its connection broke
func (c *clientCache[T]) evict(nodeID string) {
	c.mu.Lock()
	e, ok := c.entries[nodeID]
	delete(c.entries, nodeID)
	c.mu.Unlock()
	if ok {
		e.client.Close()
	}
}

func (c *clientCache[T]) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		e.client.Close()
		delete(c.entries, id)
	}
}

func (c *clientCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func credentials(creds CredentialResolver, node *biz.StorageNode) (accessKey, secretKey string, err error) {
	if accessKey, err = creds.DecryptCredential(node.AccessKey); err != nil {
		return "", "", err
	}
	if secretKey, err = creds.DecryptCredential(node.SecretKey); err != nil {
		return "", "", err
	}
	return accessKey, secretKey, nil
}

// withTimeout applies the default operation timeout when ctx has no deadline
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
