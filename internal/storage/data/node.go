package data

import (
	"context"
	"errors"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageNodePO 存储节点表。UpdatedAt 只随注册配置变化，
// 状态、容量与健康检查写入不修改它（后端客户端缓存以它为版本）
type StorageNodePO struct {
	NodeID      string `gorm:"size:64;primaryKey"`
	BackendType string `gorm:"size:32;not null;index:idx_nodes_type_status,priority:1"`
	Endpoint    string `gorm:"size:512;not null"`
	PublicURL   string `gorm:"size:512"`

	// 加密后的凭据
	AccessKey string `gorm:"type:text"`
	SecretKey string `gorm:"type:text"`

	Bucket string `gorm:"size:128"`
	Region string `gorm:"size:64"`
	UseSSL bool   `gorm:"not null;default:false"`

	TotalCapacity int64  `gorm:"not null;default:0"`
	UsedCapacity  int64  `gorm:"not null;default:0"`
	FileCount     int64  `gorm:"not null;default:0"`
	Status        string `gorm:"size:16;not null;index:idx_nodes_type_status,priority:2"`

	LastHealthCheck *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (StorageNodePO) TableName() string {
	return "storage_nodes"
}

// NodeRepo implements biz.NodeRepo
type NodeRepo struct {
	db *database.DB
}

var _ biz.NodeRepo = (*NodeRepo)(nil)

func NewNodeRepo(db *database.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

func toNodePO(n *biz.StorageNode) *StorageNodePO {
	return &StorageNodePO{
		NodeID:          n.NodeID,
		BackendType:     string(n.BackendType),
		Endpoint:        n.Endpoint,
		PublicURL:       n.PublicURL,
		AccessKey:       n.AccessKey,
		SecretKey:       n.SecretKey,
		Bucket:          n.Bucket,
		Region:          n.Region,
		UseSSL:          n.UseSSL,
		TotalCapacity:   n.TotalCapacity,
		UsedCapacity:    n.UsedCapacity,
		FileCount:       n.FileCount,
		Status:          string(n.Status),
		LastHealthCheck: n.LastHealthCheck,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func (po *StorageNodePO) toNode() *biz.StorageNode {
	return &biz.StorageNode{
		NodeID:          po.NodeID,
		BackendType:     biz.BackendType(po.BackendType),
		Endpoint:        po.Endpoint,
		PublicURL:       po.PublicURL,
		AccessKey:       po.AccessKey,
		SecretKey:       po.SecretKey,
		Bucket:          po.Bucket,
		Region:          po.Region,
		UseSSL:          po.UseSSL,
		TotalCapacity:   po.TotalCapacity,
		UsedCapacity:    po.UsedCapacity,
		FileCount:       po.FileCount,
		Status:          biz.NodeStatus(po.Status),
		LastHealthCheck: po.LastHealthCheck,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
	}
}

func toNodes(pos []StorageNodePO) []*biz.StorageNode {
	nodes := make([]*biz.StorageNode, 0, len(pos))
	for i := range pos {
		nodes = append(nodes, pos[i].toNode())
	}
	return nodes
}

func nodeNotFound(id string) error {
	return apperrors.New(apperrors.ErrNodeNotFound, "node "+id)
}

func (r *NodeRepo) List(ctx context.Context) ([]*biz.StorageNode, error) {
	var pos []StorageNodePO
	if err := r.db.WithContext(ctx).Order("node_id").Find(&pos).Error; err != nil {
		return nil, err
	}
	return toNodes(pos), nil
}

func (r *NodeRepo) ListByTypeAndStatus(ctx context.Context, backend biz.BackendType, status biz.NodeStatus) ([]*biz.StorageNode, error) {
	var pos []StorageNodePO
	err := r.db.WithContext(ctx).
		Where("backend_type = ? AND status = ?", string(backend), string(status)).
		Order("node_id").Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toNodes(pos), nil
}

func (r *NodeRepo) FindByID(ctx context.Context, nodeID string) (*biz.StorageNode, error) {
	var po StorageNodePO
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nodeNotFound(nodeID)
		}
		return nil, err
	}
	return po.toNode(), nil
}

// Save 按 NodeID 插入或更新配置字段，不覆盖容量计数
func (r *NodeRepo) Save(ctx context.Context, node *biz.StorageNode) error {
	po := toNodePO(node)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"backend_type", "endpoint", "public_url", "access_key", "secret_key",
			"bucket", "region", "use_ssl", "total_capacity", "status", "updated_at",
		}),
	}).Create(po).Error
}

func (r *NodeRepo) UpdateStatus(ctx context.Context, nodeID string, status biz.NodeStatus) error {
	res := r.db.WithContext(ctx).Model(&StorageNodePO{}).Where("node_id = ?", nodeID).
		UpdateColumn("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nodeNotFound(nodeID)
	}
	return nil
}

// RecordStore 在单行锁事务内累加容量与文件数，用满时置为 FULL
func (r *NodeRepo) RecordStore(ctx context.Context, nodeID string, bytes int64) (*biz.StorageNode, error) {
	var out *biz.StorageNode
	err := r.db.ExecuteWithRetry(ctx, txRetryAttempts, func(ctx context.Context, tx *gorm.DB) error {
		var po StorageNodePO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("node_id = ?", nodeID).First(&po).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nodeNotFound(nodeID)
			}
			return err
		}

		node := po.toNode()
		node.UsedCapacity += bytes
		node.FileCount++
		if node.Status == biz.NodeActive && node.UsedPercent() >= biz.MaxUsedPercent {
			node.Status = biz.NodeFull
		}

		err = tx.Model(&StorageNodePO{}).Where("node_id = ?", nodeID).UpdateColumns(map[string]interface{}{
			"used_capacity": node.UsedCapacity,
			"file_count":    node.FileCount,
			"status":        string(node.Status),
		}).Error
		if err != nil {
			return err
		}
		out = node
		return nil
	})
	return out, err
}

func (r *NodeRepo) RecordHealthCheck(ctx context.Context, nodeID string, status biz.NodeStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&StorageNodePO{}).Where("node_id = ?", nodeID).
		UpdateColumns(map[string]interface{}{"status": string(status), "last_health_check": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nodeNotFound(nodeID)
	}
	return nil
}
