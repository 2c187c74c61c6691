package biz

import (
	"context"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"go.uber.org/zap"
)

const defaultProbeTimeout = 10 * time.Second

// NodePinger 健康探测所需的后端能力
type NodePinger interface {
	Ping(ctx context.Context, node *StorageNode) error
}

// NodeRegistry 节点注册表，是容量与状态的唯一来源
type NodeRegistry struct {
	repo   NodeRepo
	enc    *EncryptionService
	logger *logger.Logger
	now    func() time.Time
}

// NewNodeRegistry 创建节点注册表
func NewNodeRegistry(repo NodeRepo, enc *EncryptionService, log *logger.Logger) *NodeRegistry {
	return &NodeRegistry{repo: repo, enc: enc, logger: log.Named("registry"), now: time.Now}
}

// Register 注册或更新节点（按 NodeID 幂等），凭据加密后保存
func (r *NodeRegistry) Register(ctx context.Context, spec NodeSpec) (*StorageNode, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	backend, _ := ParseBackendType(string(spec.BackendType))

	accessKey, err := r.enc.EncryptCredential(spec.AccessKey)
	if err != nil {
		return nil, err
	}
	secretKey, err := r.enc.EncryptCredential(spec.SecretKey)
	if err != nil {
		return nil, err
	}

	status := spec.Status
	if status == "" {
		status = NodeActive
	}
	now := r.now()
	node := &StorageNode{
		NodeID:        spec.NodeID,
		BackendType:   backend,
		Endpoint:      spec.Endpoint,
		PublicURL:     spec.PublicURL,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		Bucket:        spec.Bucket,
		Region:        spec.Region,
		UseSSL:        spec.UseSSL,
		TotalCapacity: spec.TotalCapacity,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.Save(ctx, node); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).Info("storage node registered",
		zap.String("node_id", node.NodeID),
		zap.String("backend", string(node.BackendType)),
		zap.String("status", string(node.Status)),
	)
	return r.repo.FindByID(ctx, node.NodeID)
}

// List 全部节点
func (r *NodeRegistry) List(ctx context.Context) ([]*StorageNode, error) {
	return r.repo.List(ctx)
}

// ListActive 指定类型的 ACTIVE 节点；backend 为空时返回所有类型
func (r *NodeRegistry) ListActive(ctx context.Context, backend BackendType) ([]*StorageNode, error) {
	if backend != "" {
		return r.repo.ListByTypeAndStatus(ctx, backend, NodeActive)
	}
	var out []*StorageNode
	for _, b := range BackendTypes {
		nodes, err := r.repo.ListByTypeAndStatus(ctx, b, NodeActive)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

// Get 按 ID 获取节点，不存在时返回 NodeNotFound
func (r *NodeRegistry) Get(ctx context.Context, nodeID string) (*StorageNode, error) {
	return r.repo.FindByID(ctx, nodeID)
}

// UpdateStatus 管理员修改节点状态
func (r *NodeRegistry) UpdateStatus(ctx context.Context, nodeID string, status NodeStatus) (*StorageNode, error) {
	st, err := ParseNodeStatus(string(status))
	if err != nil {
		return nil, err
	}
	if err := r.repo.UpdateStatus(ctx, nodeID, st); err != nil {
		return nil, err
	}
	r.logger.WithContext(ctx).Info("storage node status changed",
		zap.String("node_id", nodeID),
		zap.String("status", string(st)),
	)
	return r.repo.FindByID(ctx, nodeID)
}

// RecordStore 写入成功后更新容量计数
func (r *NodeRegistry) RecordStore(ctx context.Context, nodeID string, bytes int64) error {
	node, err := r.repo.RecordStore(ctx, nodeID, bytes)
	if err != nil {
		return err
	}
	metrics.SetNodeUsage(node.NodeID, string(node.BackendType), node.UsedPercent()/100)
	if node.Status == NodeFull {
		r.logger.WithContext(ctx).Warn("storage node is full",
			zap.String("node_id", node.NodeID),
			zap.Int64("used", node.UsedCapacity),
			zap.Int64("total", node.TotalCapacity),
		)
	}
	return nil
}

// ProbeReport 一轮健康探测结果
type ProbeReport struct {
	Checked   int
	WentDown  []string
	CameBack  []string
	Unhealthy []string
}

// ProbeHealth 探测所有节点：ACTIVE 失败转 OFFLINE，OFFLINE 恢复转 ACTIVE；MAINTENANCE 与 FULL 保持不变
func (r *NodeRegistry) ProbeHealth(ctx context.Context, pinger NodePinger) (*ProbeReport, error) {
	nodes, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &ProbeReport{}
	for _, node := range nodes {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		pingCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		pingErr := pinger.Ping(pingCtx, node)
		cancel()

		next := node.Status
		switch {
		case pingErr != nil && node.Status == NodeActive:
			next = NodeOffline
			report.WentDown = append(report.WentDown, node.NodeID)
		case pingErr == nil && node.Status == NodeOffline:
			next = NodeActive
			report.CameBack = append(report.CameBack, node.NodeID)
		}
		if pingErr != nil {
			report.Unhealthy = append(report.Unhealthy, node.NodeID)
			r.logger.WithContext(ctx).Warn("storage node probe failed",
				zap.String("node_id", node.NodeID),
				zap.String("backend", string(node.BackendType)),
				zap.Error(pingErr),
			)
		}
		metrics.SetNodeUp(node.NodeID, string(node.BackendType), pingErr == nil)

		if err := r.repo.RecordHealthCheck(ctx, node.NodeID, next, r.now()); err != nil {
			r.logger.WithContext(ctx).Error("failed to record health check",
				zap.String("node_id", node.NodeID), zap.Error(err))
			continue
		}
		report.Checked++
	}
	return report, nil
}
