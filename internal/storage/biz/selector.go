package biz

import (
	"context"
	"sort"
	"sync/atomic"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// 选择策略名称
const (
	StrategyLeastUsed  = "least_used"
	StrategyRoundRobin = "round_robin"
)

// SelectionStrategy 从已过滤的候选节点中选出一个
type SelectionStrategy interface {
	Name() string
	Select(candidates []*StorageNode) (*StorageNode, error)
}

// NewSelectionStrategy 按名称创建策略
func NewSelectionStrategy(name string) (SelectionStrategy, error) {
	switch name {
	case "", StrategyLeastUsed:
		return LeastUsedStrategy{}, nil
	case StrategyRoundRobin:
		return &RoundRobinStrategy{}, nil
	}
	return nil, errInvalid("unknown selection strategy %q", name)
}

func errNoAvailableNodes(backend BackendType) error {
	detail := "all backends"
	if backend != "" {
		detail = string(backend)
	}
	return apperrors.New(apperrors.ErrNoAvailableNodes, detail)
}

// LeastUsedStrategy 选择使用率最低的节点，相同时取 NodeID 较小者
type LeastUsedStrategy struct{}

func (LeastUsedStrategy) Name() string { return StrategyLeastUsed }

func (LeastUsedStrategy) Select(candidates []*StorageNode) (*StorageNode, error) {
	if len(candidates) == 0 {
		return nil, errNoAvailableNodes("")
	}
	best := candidates[0]
	for _, n := range candidates[1:] {
		pu, bu := n.UsedPercent(), best.UsedPercent()
		if pu < bu || (pu == bu && n.NodeID < best.NodeID) {
			best = n
		}
	}
	return best, nil
}

// RoundRobinStrategy 进程内计数器取模轮询；候选按 NodeID 排序保证顺序稳定
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

func (*RoundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *RoundRobinStrategy) Select(candidates []*StorageNode) (*StorageNode, error) {
	if len(candidates) == 0 {
		return nil, errNoAvailableNodes("")
	}
	sorted := make([]*StorageNode, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeID < sorted[j].NodeID })

	idx := (s.counter.Add(1) - 1) % uint64(len(sorted))
	return sorted[idx], nil
}

// NodeSelector 结合注册表与策略为一次写入挑选节点
type NodeSelector struct {
	registry *NodeRegistry
	strategy SelectionStrategy
	fallback bool
}

// NewNodeSelector 创建节点选择器；fallback 为真时首选类型无可用节点会退回任意类型
func NewNodeSelector(registry *NodeRegistry, strategy SelectionStrategy, fallback bool) *NodeSelector {
	return &NodeSelector{registry: registry, strategy: strategy, fallback: fallback}
}

// Strategy 当前策略
func (s *NodeSelector) Strategy() SelectionStrategy {
	return s.strategy
}

// SelectNode 选择可写节点，preferred 为空表示不限类型
func (s *NodeSelector) SelectNode(ctx context.Context, preferred BackendType) (*StorageNode, error) {
	node, err := s.selectFrom(ctx, preferred)
	if err == nil || preferred == "" || !s.fallback || !apperrors.IsKind(err, apperrors.KindNoAvailableNodes) {
		return node, err
	}
	return s.selectFrom(ctx, "")
}

func (s *NodeSelector) selectFrom(ctx context.Context, backend BackendType) (*StorageNode, error) {
	nodes, err := s.registry.ListActive(ctx, backend)
	if err != nil {
		return nil, err
	}
	candidates := EligibleNodes(nodes)
	if len(candidates) == 0 {
		return nil, errNoAvailableNodes(backend)
	}
	return s.strategy.Select(candidates)
}

// EligibleNodes 过滤出可写节点
func EligibleNodes(nodes []*StorageNode) []*StorageNode {
	out := make([]*StorageNode, 0, len(nodes))
	for _, n := range nodes {
		if n.IsEligible() {
			out = append(out, n)
		}
	}
	return out
}
