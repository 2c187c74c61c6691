package biz

import (
	"strings"
	"time"
)

// FileStatus 文件状态
type FileStatus string

const (
	FileActive      FileStatus = "ACTIVE"
	FileQuarantined FileStatus = "QUARANTINED"
	FileDeleted     FileStatus = "DELETED"
)

// FileMetadata 文件元数据
type FileMetadata struct {
	Name        string
	ContentType string
	Size        int64
	OwnerID     string
	FolderID    string
	Status      FileStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileAggregate 聚合根：元数据、存储引用、校验和缺一不可
type FileAggregate struct {
	id        string
	metadata  FileMetadata
	reference StorageReference
	checksum  FileChecksum
}

// NewFileAggregate 构造并校验完整聚合
func NewFileAggregate(id string, meta FileMetadata, ref StorageReference, sum FileChecksum) (*FileAggregate, error) {
	if id == "" {
		return nil, errInvalid("file id is required")
	}
	if strings.TrimSpace(meta.Name) == "" {
		return nil, errInvalid("file %s: name is required", id)
	}
	if meta.OwnerID == "" {
		return nil, errInvalid("file %s: owner is required", id)
	}
	if meta.Size < 0 {
		return nil, errInvalid("file %s: size must not be negative", id)
	}
	switch meta.Status {
	case FileActive, FileQuarantined, FileDeleted:
	case "":
		meta.Status = FileActive
	default:
		return nil, errInvalid("file %s: unknown status %q", id, meta.Status)
	}
	if ref.NodeID() == "" || ref.EncryptedPath() == "" {
		return nil, errInvalid("file %s: storage reference is required", id)
	}
	if sum.IsZero() {
		return nil, errInvalid("file %s: checksum is required", id)
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	return &FileAggregate{id: id, metadata: meta, reference: ref, checksum: sum}, nil
}

func (f *FileAggregate) ID() string                  { return f.id }
func (f *FileAggregate) Metadata() FileMetadata      { return f.metadata }
func (f *FileAggregate) Reference() StorageReference { return f.reference }
func (f *FileAggregate) Checksum() FileChecksum      { return f.checksum }

// IsOwnedBy 所有权判断
func (f *FileAggregate) IsOwnedBy(ownerID string) bool {
	return f.metadata.OwnerID == ownerID
}

// CanDownload 只有 ACTIVE 文件可下载
func (f *FileAggregate) CanDownload() bool {
	return f.metadata.Status == FileActive
}

// Restored 返回以新名称/目录恢复为 ACTIVE 的副本
func (f *FileAggregate) Restored(name, contentType, folderID string, now time.Time) *FileAggregate {
	cp := *f
	cp.metadata.Name = name
	if contentType != "" {
		cp.metadata.ContentType = contentType
	}
	cp.metadata.FolderID = folderID
	cp.metadata.Status = FileActive
	cp.metadata.UpdatedAt = now
	return &cp
}
