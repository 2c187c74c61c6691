package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	client, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"missing addr", func(c *Config) { c.Addr = "" }, true},
		{"sentinel without master", func(c *Config) { c.Mode = ModeSentinel; c.SentinelAddrs = []string{"s:26379"} }, true},
		{"cluster", func(c *Config) { c.Mode = ModeCluster; c.ClusterAddrs = []string{"c1:7000"} }, false},
		{"unknown mode", func(c *Config) { c.Mode = "read-write" }, true},
		{"invalid db", func(c *Config) { c.DB = 16 }, true},
		{"invalid pool size", func(c *Config) { c.PoolSize = 0 }, true},
		{"idle exceeds pool", func(c *Config) { c.MinIdleConns = 20 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.MaxRetries = 0
	mr.Close()

	client, err := New(cfg, logger.NewNop())
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestStringOperations(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "file:1", `{"id":"1"}`, time.Minute))
		val, err := client.Get(ctx, "file:1")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"1"}`, val)

		raw, err := client.GetBytes(ctx, "file:1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"id":"1"}`), raw)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := client.Get(ctx, "file:missing")
		assert.True(t, IsNil(err))
	})

	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "tmp", "v", time.Second))
		ttl, err := client.TTL(ctx, "tmp")
		require.NoError(t, err)
		assert.Positive(t, ttl)
		mr.FastForward(2 * time.Second)
		n, err := client.Exists(ctx, "tmp")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("del", func(t *testing.T) {
		n, err := client.Del(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = client.Del(ctx, "file:1", "nope")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestDeleteByPattern(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for i := range 450 {
		require.NoError(t, client.Set(ctx, fmt.Sprintf("files:user:alice:%d:20", i), "x", 0))
	}
	require.NoError(t, client.Set(ctx, "files:user:bob:1:20", "x", 0))

	n, err := client.DeleteByPattern(ctx, "files:user:alice:*")
	require.NoError(t, err)
	assert.Equal(t, int64(450), n)

	left, err := client.Exists(ctx, "files:user:bob:1:20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestPublishSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "storage.events.uploaded")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n, err := client.Publish(ctx, "storage.events.uploaded", `{"file_id":"f1"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"file_id":"f1"}`, msg.Payload)
}

func TestDistributedLock(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("exclusive", func(t *testing.T) {
		token, err := client.Lock(ctx, "lock:sweep", time.Minute)
		require.NoError(t, err)

		_, err = client.Lock(ctx, "lock:sweep", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		assert.ErrorIs(t, client.Unlock(ctx, "lock:sweep", "someone-else"), ErrLockNotHeld)
		require.NoError(t, client.Extend(ctx, "lock:sweep", token, 2*time.Minute))
		require.NoError(t, client.Unlock(ctx, "lock:sweep", token))
	})

	t.Run("expired lock cannot be released", func(t *testing.T) {
		token, err := client.Lock(ctx, "lock:health", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)
		assert.ErrorIs(t, client.Unlock(ctx, "lock:health", token), ErrLockNotHeld)
		assert.ErrorIs(t, client.Extend(ctx, "lock:health", token, time.Second), ErrLockNotHeld)
	})

	t.Run("with lock releases after fn", func(t *testing.T) {
		boom := errors.New("boom")
		err := client.WithLock(ctx, "lock:job", time.Minute, func(ctx context.Context) error {
			_, err := client.Lock(ctx, "lock:job", time.Minute)
			assert.ErrorIs(t, err, ErrLockNotAcquired)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, mr.Exists("lock:job"))
	})
}
