package backend

import (
	"context"
	"fmt"
	"io"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// Router dispatches each call to the adapter registered for the node's
// backend type. The table is fixed at construction.
type Router struct {
	adapters map[biz.BackendType]biz.StorageBackend
}

var _ biz.StorageBackend = (*Router)(nil)

// NewRouter requires an adapter for every known backend type
func NewRouter(adapters map[biz.BackendType]biz.StorageBackend) (*Router, error) {
	table := make(map[biz.BackendType]biz.StorageBackend, len(biz.BackendTypes))
	for _, bt := range biz.BackendTypes {
		a, ok := adapters[bt]
		if !ok || a == nil {
			return nil, fmt.Errorf("backend: no adapter registered for %s", bt)
		}
		table[bt] = a
	}
	for bt := range adapters {
		if _, ok := table[bt]; !ok {
			return nil, fmt.Errorf("backend: unknown backend type %q", bt)
		}
	}
	return &Router{adapters: table}, nil
}

func (r *Router) route(node *biz.StorageNode) (biz.StorageBackend, error) {
	if node == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "node is required")
	}
	a, ok := r.adapters[node.BackendType]
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "unsupported backend type "+string(node.BackendType))
	}
	return a, nil
}

func (r *Router) Store(ctx context.Context, node *biz.StorageNode, req *biz.StoreRequest) (*biz.StorageResult, error) {
	a, err := r.route(node)
	if err != nil {
		return nil, err
	}
	return a.Store(ctx, node, req)
}

func (r *Router) Retrieve(ctx context.Context, node *biz.StorageNode, physicalPath string) (io.ReadCloser, error) {
	a, err := r.route(node)
	if err != nil {
		return nil, err
	}
	return a.Retrieve(ctx, node, physicalPath)
}

func (r *Router) Delete(ctx context.Context, node *biz.StorageNode, physicalPath string) error {
	a, err := r.route(node)
	if err != nil {
		return err
	}
	return a.Delete(ctx, node, physicalPath)
}

func (r *Router) Exists(ctx context.Context, node *biz.StorageNode, physicalPath string) (bool, error) {
	a, err := r.route(node)
	if err != nil {
		return false, err
	}
	return a.Exists(ctx, node, physicalPath)
}

func (r *Router) PresignURL(ctx context.Context, node *biz.StorageNode, physicalPath string, expiry time.Duration) (string, error) {
	a, err := r.route(node)
	if err != nil {
		return "", err
	}
	return a.PresignURL(ctx, node, physicalPath, expiry)
}

func (r *Router) Ping(ctx context.Context, node *biz.StorageNode) error {
	a, err := r.route(node)
	if err != nil {
		return err
	}
	return a.Ping(ctx, node)
}

// Close closes every adapter that holds connections
func (r *Router) Close() error {
	var first error
	for _, a := range r.adapters {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
