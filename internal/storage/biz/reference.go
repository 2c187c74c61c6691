package biz

import (
	"fmt"
	"io"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
)

// StorageReference 元数据指向物理字节的唯一指针。位置只以密文形式保存
type StorageReference struct {
	backendType   BackendType
	nodeID        string
	encryptedPath string
	keyRef        string
	bucket        string
	region        string
}

// NewStorageReference 构造时校验：后端类型合法、节点与密钥引用非空、密文可解析
func NewStorageReference(backend BackendType, nodeID, encryptedPath, keyRef, bucket, region string) (StorageReference, error) {
	if _, err := ParseBackendType(string(backend)); err != nil {
		return StorageReference{}, err
	}
	if nodeID == "" {
		return StorageReference{}, errInvalid("storage reference: node id is required")
	}
	if keyRef == "" {
		return StorageReference{}, errInvalid("storage reference: key reference is required")
	}
	if _, err := crypto.ParseBlob(encryptedPath); err != nil {
		return StorageReference{}, errEncryption("storage reference", err)
	}
	return StorageReference{
		backendType:   backend,
		nodeID:        nodeID,
		encryptedPath: encryptedPath,
		keyRef:        keyRef,
		bucket:        bucket,
		region:        region,
	}, nil
}

func (r StorageReference) BackendType() BackendType { return r.backendType }
func (r StorageReference) NodeID() string           { return r.nodeID }
func (r StorageReference) EncryptedPath() string    { return r.encryptedPath }
func (r StorageReference) KeyRef() string           { return r.keyRef }
func (r StorageReference) Bucket() string           { return r.bucket }
func (r StorageReference) Region() string           { return r.region }

// String 仅用于日志，不输出路径密文
func (r StorageReference) String() string {
	return fmt.Sprintf("%s@%s(key=%s)", r.backendType, r.nodeID, r.keyRef)
}

// StoreRequest 适配器写入上下文
type StoreRequest struct {
	Bucket      string
	BasePath    string
	FileName    string
	ContentType string
	Size        int64 // -1 表示未知
	Body        io.Reader
}

// StorageResult 适配器写入结果。PhysicalPath 为明文，必须加密后才能持久化
type StorageResult struct {
	PhysicalPath string
	Bucket       string
	ETag         string
	BytesWritten int64
	Region       string
}

// PresignedURL 临时访问链接
type PresignedURL struct {
	URL       string
	ExpiresAt time.Time
}
