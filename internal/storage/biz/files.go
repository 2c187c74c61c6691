package biz

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

func fileCacheKey(id string) string {
	return "file:" + id
}

func ownerListPattern(ownerID string) string {
	return fmt.Sprintf("files:user:%s:*", ownerID)
}

func ownerListKey(ownerID string, page, pageSize int) string {
	return fmt.Sprintf("files:user:%s:%d:%d", ownerID, page, pageSize)
}

// fileSnapshot 聚合的缓存表示，只含密文位置
type fileSnapshot struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	ContentType   string            `json:"content_type"`
	Size          int64             `json:"size"`
	OwnerID       string            `json:"owner_id"`
	FolderID      string            `json:"folder_id,omitempty"`
	Status        FileStatus        `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	BackendType   BackendType       `json:"backend_type"`
	NodeID        string            `json:"node_id"`
	EncryptedPath string            `json:"encrypted_path"`
	KeyRef        string            `json:"key_ref"`
	Bucket        string            `json:"bucket,omitempty"`
	Region        string            `json:"region,omitempty"`
	Algorithm     ChecksumAlgorithm `json:"algorithm"`
	Checksum      string            `json:"checksum"`
}

type fileListSnapshot struct {
	Items []fileSnapshot `json:"items"`
	Total int64          `json:"total"`
}

func snapshotOf(f *FileAggregate) fileSnapshot {
	m, r, c := f.Metadata(), f.Reference(), f.Checksum()
	return fileSnapshot{
		ID: f.ID(), Name: m.Name, ContentType: m.ContentType, Size: m.Size,
		OwnerID: m.OwnerID, FolderID: m.FolderID, Status: m.Status,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		BackendType: r.BackendType(), NodeID: r.NodeID(), EncryptedPath: r.EncryptedPath(),
		KeyRef: r.KeyRef(), Bucket: r.Bucket(), Region: r.Region(),
		Algorithm: c.Algorithm(), Checksum: c.Value(),
	}
}

func (s *fileSnapshot) aggregate() (*FileAggregate, error) {
	sum, err := NewFileChecksum(s.Algorithm, s.Checksum)
	if err != nil {
		return nil, err
	}
	ref, err := NewStorageReference(s.BackendType, s.NodeID, s.EncryptedPath, s.KeyRef, s.Bucket, s.Region)
	if err != nil {
		return nil, err
	}
	return NewFileAggregate(s.ID, FileMetadata{
		Name: s.Name, ContentType: s.ContentType, Size: s.Size, OwnerID: s.OwnerID,
		FolderID: s.FolderID, Status: s.Status, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}, ref, sum)
}

// GetFile 读取文件元数据（读穿缓存）
func (uc *FileUseCase) GetFile(ctx context.Context, fileID, ownerID string) (*FileAggregate, error) {
	var snap fileSnapshot
	if uc.cacheGet(ctx, fileCacheKey(fileID), &snap) && snap.OwnerID == ownerID {
		if f, err := snap.aggregate(); err == nil {
			return f, nil
		}
	}

	f, err := uc.ownedFile(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}
	uc.cacheSet(ctx, fileCacheKey(fileID), snapshotOf(f))
	return f, nil
}

// ListFiles 分页列出所有者的未删除文件（读穿缓存）
func (uc *FileUseCase) ListFiles(ctx context.Context, ownerID string, page, pageSize int) ([]*FileAggregate, int64, error) {
	key := ownerListKey(ownerID, page, pageSize)

	var snap fileListSnapshot
	if uc.cacheGet(ctx, key, &snap) {
		files := make([]*FileAggregate, 0, len(snap.Items))
		for i := range snap.Items {
			f, err := snap.Items[i].aggregate()
			if err != nil {
				files = nil
				break
			}
			files = append(files, f)
		}
		if files != nil {
			return files, snap.Total, nil
		}
	}

	files, total, err := uc.repo.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	snap = fileListSnapshot{Items: make([]fileSnapshot, 0, len(files)), Total: total}
	for _, f := range files {
		snap.Items = append(snap.Items, snapshotOf(f))
	}
	uc.cacheSet(ctx, key, snap)
	return files, total, nil
}

// DeleteFile 软删除；物理对象不在此回收
func (uc *FileUseCase) DeleteFile(ctx context.Context, fileID, ownerID string) error {
	f, err := uc.ownedFile(ctx, fileID, ownerID)
	if err != nil {
		return err
	}
	if f.Metadata().Status == FileDeleted {
		return nil
	}
	if err := uc.repo.SoftDelete(ctx, fileID); err != nil {
		return err
	}

	uc.invalidateFile(ctx, fileID, ownerID)
	uc.events.PublishDeleted(ctx, fileID, ownerID)
	uc.logger.WithContext(ctx).Info("file deleted",
		zap.String("file_id", fileID),
		zap.String("node_id", f.Reference().NodeID()),
	)
	return nil
}

func (uc *FileUseCase) cacheGet(ctx context.Context, key string, dest any) bool {
	hit, err := uc.cache.Get(ctx, key, dest)
	if err != nil {
		uc.logger.WithContext(ctx).Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (uc *FileUseCase) cacheSet(ctx context.Context, key string, value any) {
	if err := uc.cache.Set(ctx, key, value, uc.cfg.CacheTTL); err != nil {
		uc.logger.WithContext(ctx).Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (uc *FileUseCase) invalidateFile(ctx context.Context, fileID, ownerID string) {
	if err := uc.cache.Delete(ctx, fileCacheKey(fileID)); err != nil {
		uc.logger.WithContext(ctx).Warn("cache invalidation failed", zap.String("file_id", fileID), zap.Error(err))
	}
	uc.invalidateOwner(ctx, ownerID)
}

func (uc *FileUseCase) invalidateOwner(ctx context.Context, ownerID string) {
	if err := uc.cache.DeleteByPattern(ctx, ownerListPattern(ownerID)); err != nil {
		uc.logger.WithContext(ctx).Warn("cache invalidation failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
