package biz

import (
	"context"
	"testing"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeastUsedStrategy(t *testing.T) {
	nodes := []*StorageNode{
		testNode("n-90", BackendObjectStoreA, 90, 100),
		testNode("n-10", BackendObjectStoreA, 10, 100),
		testNode("n-50", BackendObjectStoreA, 50, 100),
	}
	got, err := LeastUsedStrategy{}.Select(nodes)
	require.NoError(t, err)
	assert.Equal(t, "n-10", got.NodeID)

	tied := []*StorageNode{
		testNode("b", BackendObjectStoreA, 5, 100),
		testNode("a", BackendObjectStoreB, 50, 1000),
	}
	got, err = LeastUsedStrategy{}.Select(tied)
	require.NoError(t, err)
	assert.Equal(t, "a", got.NodeID)

	_, err = LeastUsedStrategy{}.Select(nil)
	requireKind(t, err, apperrors.KindNoAvailableNodes)
}

func TestRoundRobinStrategy(t *testing.T) {
	rr := &RoundRobinStrategy{}
	nodes := []*StorageNode{
		testNode("c", BackendObjectStoreA, 0, 100),
		testNode("a", BackendObjectStoreA, 0, 100),
		testNode("b", BackendObjectStoreA, 0, 100),
	}
	var picked []string
	for i := 0; i < 6; i++ {
		n, err := rr.Select(nodes)
		require.NoError(t, err)
		picked = append(picked, n.NodeID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picked)
	assert.Equal(t, "c", nodes[0].NodeID)
}

func TestNewSelectionStrategy(t *testing.T) {
	s, err := NewSelectionStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyLeastUsed, s.Name())

	s, err = NewSelectionStrategy(StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, s.Name())

	_, err = NewSelectionStrategy("random")
	requireKind(t, err, apperrors.KindValidationFailure)
}

func TestNodeSelector(t *testing.T) {
	ctx := context.Background()

	t.Run("filters ineligible nodes", func(t *testing.T) {
		maintenance := testNode("m", BackendObjectStoreA, 0, 100)
		maintenance.Status = NodeMaintenance
		h := newHarness(t,
			testNode("n-10", BackendObjectStoreA, 10, 100),
			testNode("n-50", BackendObjectStoreA, 50, 100),
			testNode("n-96", BackendObjectStoreA, 96, 100),
			maintenance,
		)
		got, err := h.selector.SelectNode(ctx, BackendObjectStoreA)
		require.NoError(t, err)
		assert.Equal(t, "n-10", got.NodeID)
	})

	t.Run("no eligible node", func(t *testing.T) {
		h := newHarness(t, testNode("n-95", BackendObjectStoreA, 95, 100))
		_, err := h.selector.SelectNode(ctx, "")
		requireKind(t, err, apperrors.KindNoAvailableNodes)
	})

	t.Run("falls back to any backend", func(t *testing.T) {
		h := newHarness(t, testNode("sftp-1", BackendTransferServer, 0, 100))
		got, err := h.selector.SelectNode(ctx, BackendObjectStoreB)
		require.NoError(t, err)
		assert.Equal(t, "sftp-1", got.NodeID)
	})

	t.Run("strict preference", func(t *testing.T) {
		h := newHarness(t, testNode("sftp-1", BackendTransferServer, 0, 100))
		strict := NewNodeSelector(h.registry, LeastUsedStrategy{}, false)
		_, err := strict.SelectNode(ctx, BackendObjectStoreB)
		requireKind(t, err, apperrors.KindNoAvailableNodes)
	})
}

func TestEligibleNodes(t *testing.T) {
	offline := testNode("off", BackendObjectStoreA, 0, 100)
	offline.Status = NodeOffline
	got := EligibleNodes([]*StorageNode{
		testNode("ok", BackendObjectStoreA, 1, 100),
		testNode("zero", BackendObjectStoreA, 0, 0),
		offline,
	})
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].NodeID)
}
