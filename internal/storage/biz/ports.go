package biz

import (
	"context"
	"io"
	"time"
)

// FileRepo 文件元数据仓储。校验和按 (owner, algorithm, value) 唯一
type FileRepo interface {
	// Save 插入新聚合；唯一索引冲突时返回 ErrDuplicateChecksum
	Save(ctx context.Context, f *FileAggregate) error
	FindByID(ctx context.Context, id string) (*FileAggregate, error)
	// FindByChecksum 未命中时返回 (nil, nil)
	FindByChecksum(ctx context.Context, ownerID string, sum FileChecksum) (*FileAggregate, error)
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*FileAggregate, error)
	ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]*FileAggregate, int64, error)
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, f *FileAggregate) error
	Exists(ctx context.Context, id string) (bool, error)
}

// NodeRepo 节点注册表持久化
type NodeRepo interface {
	List(ctx context.Context) ([]*StorageNode, error)
	ListByTypeAndStatus(ctx context.Context, backend BackendType, status NodeStatus) ([]*StorageNode, error)
	FindByID(ctx context.Context, nodeID string) (*StorageNode, error)
	// Save 按 NodeID 插入或更新配置字段，不覆盖容量计数
	Save(ctx context.Context, node *StorageNode) error
	UpdateStatus(ctx context.Context, nodeID string, status NodeStatus) error
	// RecordStore 在单行锁事务内累加容量与文件数，用满时置为 FULL
	RecordStore(ctx context.Context, nodeID string, bytes int64) (*StorageNode, error)
	RecordHealthCheck(ctx context.Context, nodeID string, status NodeStatus, at time.Time) error
}

// SessionRepo 分片会话与分片记录仓储
type SessionRepo interface {
	Create(ctx context.Context, s *UploadSession) error
	FindByID(ctx context.Context, id string) (*UploadSession, error)
	// SaveChunk 在会话级事务中写入（或替换同编号）分片并按行数重算 uploaded_chunks
	SaveChunk(ctx context.Context, chunk *FileChunk) (*UploadSession, error)
	ListChunks(ctx context.Context, sessionID string) ([]*FileChunk, error)
	DeleteChunks(ctx context.Context, sessionID string) error
	UpdateStatus(ctx context.Context, id string, status SessionStatus, fileID string, at time.Time) error
	// FindExpired 返回仍为开放状态但已过期的会话
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*UploadSession, error)
}

// KeyStore 密钥托管边界
type KeyStore interface {
	GenerateKey(ctx context.Context) (string, error)
	// GetKey 未知引用返回 ErrKeyNotFound
	GetKey(ctx context.Context, keyRef string) ([]byte, error)
	DeleteKey(ctx context.Context, keyRef string) error
}

// ScanLocation 病毒扫描请求中的位置，只含密文
type ScanLocation struct {
	NodeID        string      `json:"node_id"`
	BackendType   BackendType `json:"backend_type"`
	EncryptedPath string      `json:"encrypted_path"`
	KeyRef        string      `json:"key_ref"`
}

// EventPublisher 事件发布端口，失败只记录日志
type EventPublisher interface {
	PublishUploaded(ctx context.Context, fileID, ownerID string)
	PublishDeleted(ctx context.Context, fileID, ownerID string)
	PublishVirusScanRequest(ctx context.Context, fileID string, location ScanLocation)
}

// Cache 尽力而为的缓存端口；任何错误都不当作权威未命中
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// StorageBackend 后端适配器统一契约；physicalPath 为解密后的位置
type StorageBackend interface {
	Store(ctx context.Context, node *StorageNode, req *StoreRequest) (*StorageResult, error)
	Retrieve(ctx context.Context, node *StorageNode, physicalPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, node *StorageNode, physicalPath string) error
	Exists(ctx context.Context, node *StorageNode, physicalPath string) (bool, error)
	// PresignURL 不支持的后端返回 ErrPresignUnsupported
	PresignURL(ctx context.Context, node *StorageNode, physicalPath string, expiry time.Duration) (string, error)
	Ping(ctx context.Context, node *StorageNode) error
}
