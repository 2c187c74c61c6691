package biz

import (
	"context"
	"testing"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterNodeEncryptsCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	node, err := h.registry.Register(ctx, NodeSpec{
		NodeID:        "minio-1",
		BackendType:   "minio",
		Endpoint:      "minio.local:9000",
		AccessKey:     "AKIA-EXAMPLE",
		SecretKey:     "super-secret",
		TotalCapacity: 1 << 30,
	})
	require.NoError(t, err)
	assert.Equal(t, BackendObjectStoreA, node.BackendType)
	assert.Equal(t, NodeActive, node.Status)
	assert.NotEqual(t, "AKIA-EXAMPLE", node.AccessKey)
	assert.NotContains(t, node.SecretKey, "super-secret")

	plain, err := h.enc.DecryptCredential(node.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", plain)

	_, err = h.registry.Register(ctx, NodeSpec{NodeID: "bad", BackendType: "ftp", Endpoint: "x", TotalCapacity: 1})
	requireKind(t, err, apperrors.KindValidationFailure)
}

func TestRegisterKeepsCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := NodeSpec{NodeID: "s3-1", BackendType: BackendObjectStoreB, Endpoint: "s3.amazonaws.com", TotalCapacity: 1000}

	_, err := h.registry.Register(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, h.registry.RecordStore(ctx, "s3-1", 100))

	spec.TotalCapacity = 2000
	node, err := h.registry.Register(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), node.TotalCapacity)
	assert.Equal(t, int64(100), node.UsedCapacity)
	assert.Equal(t, int64(1), node.FileCount)
}

func TestRecordStoreMarksFull(t *testing.T) {
	h := newHarness(t, testNode("n1", BackendObjectStoreA, 90, 100))
	ctx := context.Background()

	require.NoError(t, h.registry.RecordStore(ctx, "n1", 5))
	assert.Equal(t, NodeFull, h.node(t, "n1").Status)

	err := h.registry.RecordStore(ctx, "missing", 1)
	requireKind(t, err, apperrors.KindNotFound)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, testNode("n1", BackendObjectStoreA, 0, 100))
	ctx := context.Background()

	node, err := h.registry.UpdateStatus(ctx, "n1", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, NodeMaintenance, node.Status)

	_, err = h.registry.UpdateStatus(ctx, "n1", "sleeping")
	requireKind(t, err, apperrors.KindValidationFailure)

	active, err := h.registry.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestProbeHealth(t *testing.T) {
	offline := testNode("back", BackendObjectStoreB, 0, 100)
	offline.Status = NodeOffline
	maintenance := testNode("maint", BackendTransferServer, 0, 100)
	maintenance.Status = NodeMaintenance
	h := newHarness(t,
		testNode("down", BackendObjectStoreA, 0, 100),
		testNode("fine", BackendObjectStoreA, 0, 100),
		offline,
		maintenance,
	)
	h.backend.failPing["down"] = true
	h.backend.failPing["maint"] = true

	report, err := h.registry.ProbeHealth(context.Background(), h.backend)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, []string{"down"}, report.WentDown)
	assert.Equal(t, []string{"back"}, report.CameBack)
	assert.ElementsMatch(t, []string{"down", "maint"}, report.Unhealthy)

	assert.Equal(t, NodeOffline, h.node(t, "down").Status)
	assert.Equal(t, NodeActive, h.node(t, "back").Status)
	assert.Equal(t, NodeActive, h.node(t, "fine").Status)
	assert.Equal(t, NodeMaintenance, h.node(t, "maint").Status)
	assert.NotNil(t, h.node(t, "fine").LastHealthCheck)
}
