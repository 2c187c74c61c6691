package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"go.uber.org/zap"
)

// FileConfig 文件用例配置
type FileConfig struct {
	Algorithm        ChecksumAlgorithm
	SpoolThreshold   int64
	SpoolDir         string
	MaxUploadSize    int64 // 0 表示不限制
	PresignExpiry    time.Duration
	MaxPresignExpiry time.Duration
	CacheTTL         time.Duration
	OperationTimeout time.Duration // 尽力而为清理操作的超时
}

func (c *FileConfig) setDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmSHA256
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = 15 * time.Minute
	}
	if c.MaxPresignExpiry <= 0 {
		c.MaxPresignExpiry = 7 * 24 * time.Hour
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
}

// FileUseCase 上传、下载与文件管理编排
type FileUseCase struct {
	repo     FileRepo
	registry *NodeRegistry
	selector *NodeSelector
	backend  StorageBackend
	enc      *EncryptionService
	events   EventPublisher
	cache    Cache
	cfg      FileConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewFileUseCase 创建文件用例
func NewFileUseCase(
	repo FileRepo,
	registry *NodeRegistry,
	selector *NodeSelector,
	backend StorageBackend,
	enc *EncryptionService,
	events EventPublisher,
	cache Cache,
	cfg FileConfig,
	log *logger.Logger,
) *FileUseCase {
	cfg.setDefaults()
	return &FileUseCase{
		repo:     repo,
		registry: registry,
		selector: selector,
		backend:  backend,
		enc:      enc,
		events:   events,
		cache:    cache,
		cfg:      cfg,
		logger:   log.Named("files"),
		now:      time.Now,
	}
}

// UploadRequest 上传请求
type UploadRequest struct {
	OwnerID          string
	FolderID         string
	FileName         string
	ContentType      string
	Size             int64 // 声明大小，<=0 表示未知
	PreferredBackend BackendType
	Content          io.Reader
}

// UploadResult 上传结果
type UploadResult struct {
	File         *FileAggregate
	NodeID       string
	Deduplicated bool
}

// Upload 计算校验和、去重、选点、写入后端、加密位置并持久化聚合
func (uc *FileUseCase) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req.OwnerID == "" {
		return nil, errInvalid("owner is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, errInvalid("file name is required")
	}
	if req.Content == nil {
		return nil, errInvalid("content is required")
	}

	buf := newSpool(uc.cfg.SpoolThreshold, uc.cfg.SpoolDir)
	defer buf.Close()

	src := req.Content
	if uc.cfg.MaxUploadSize > 0 {
		src = io.LimitReader(src, uc.cfg.MaxUploadSize+1)
	}
	sum, err := ComputeChecksum(io.TeeReader(src, buf), uc.cfg.Algorithm)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrBadRequest, "failed to read content")
	}

	size := buf.Size()
	if uc.cfg.MaxUploadSize > 0 && size > uc.cfg.MaxUploadSize {
		return nil, errInvalid("file exceeds maximum upload size of %d bytes", uc.cfg.MaxUploadSize)
	}
	if req.Size > 0 && req.Size != size {
		return nil, apperrors.New(apperrors.ErrSizeMismatch,
			fmt.Sprintf("declared %d bytes, received %d", req.Size, size))
	}

	existing, err := uc.repo.FindByChecksum(ctx, req.OwnerID, sum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return uc.deduplicate(ctx, existing, req)
	}

	body, err := buf.Reader()
	if err != nil {
		return nil, err
	}
	return uc.store(ctx, req, sum, body, size)
}

func (uc *FileUseCase) store(ctx context.Context, req *UploadRequest, sum FileChecksum, body io.Reader, size int64) (*UploadResult, error) {
	log := uc.logger.WithContext(ctx)

	node, err := uc.selector.SelectNode(ctx, req.PreferredBackend)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	fileID := uuid.NewString()
	res, err := uc.backend.Store(ctx, node, &StoreRequest{
		Bucket:      BucketFor(node, now),
		BasePath:    BasePath(node.BackendType, req.OwnerID, now),
		FileName:    ObjectName(fileID, req.FileName),
		ContentType: req.ContentType,
		Size:        size,
		Body:        body,
	})
	if err != nil {
		metrics.RecordUpload(string(node.BackendType), "failed", 0)
		return nil, err
	}

	encPath, keyRef, err := uc.enc.EncryptPath(ctx, res.PhysicalPath)
	if err != nil {
		uc.discard(ctx, node, res.PhysicalPath)
		return nil, err
	}

	agg, err := uc.assemble(fileID, req, node, res, encPath, keyRef, sum, now)
	if err == nil {
		err = uc.repo.Save(ctx, agg)
	}
	if err != nil {
		uc.discard(ctx, node, res.PhysicalPath)
		_ = uc.enc.DropKey(ctx, keyRef)
		if errors.Is(err, ErrDuplicateChecksum) {
			// 并发上传相同内容，另一方已先写入
			if existing, ferr := uc.repo.FindByChecksum(ctx, req.OwnerID, sum); ferr == nil && existing != nil {
				return uc.deduplicate(ctx, existing, req)
			}
		}
		return nil, err
	}

	if err := uc.registry.RecordStore(ctx, node.NodeID, res.BytesWritten); err != nil {
		log.Error("failed to update node capacity", zap.String("node_id", node.NodeID), zap.Error(err))
	}

	metrics.RecordUpload(string(node.BackendType), "stored", res.BytesWritten)
	uc.events.PublishUploaded(ctx, fileID, req.OwnerID)
	ref := agg.Reference()
	uc.events.PublishVirusScanRequest(ctx, fileID, ScanLocation{
		NodeID:        ref.NodeID(),
		BackendType:   ref.BackendType(),
		EncryptedPath: ref.EncryptedPath(),
		KeyRef:        ref.KeyRef(),
	})
	uc.invalidateOwner(ctx, req.OwnerID)

	log.Info("file stored",
		zap.String("file_id", fileID),
		zap.String("node_id", node.NodeID),
		zap.String("backend", string(node.BackendType)),
		zap.Int64("size", res.BytesWritten),
		zap.String("checksum", sum.String()),
	)
	return &UploadResult{File: agg, NodeID: node.NodeID}, nil
}

func (uc *FileUseCase) assemble(fileID string, req *UploadRequest, node *StorageNode, res *StorageResult, encPath, keyRef string, sum FileChecksum, now time.Time) (*FileAggregate, error) {
	ref, err := NewStorageReference(node.BackendType, node.NodeID, encPath, keyRef, res.Bucket, res.Region)
	if err != nil {
		return nil, err
	}
	return NewFileAggregate(fileID, FileMetadata{
		Name:        req.FileName,
		ContentType: req.ContentType,
		Size:        res.BytesWritten,
		OwnerID:     req.OwnerID,
		FolderID:    req.FolderID,
		Status:      FileActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, ref, sum)
}

// deduplicate 命中已有聚合：隔离内容拒绝，已删除内容恢复为 ACTIVE
func (uc *FileUseCase) deduplicate(ctx context.Context, existing *FileAggregate, req *UploadRequest) (*UploadResult, error) {
	switch existing.Metadata().Status {
	case FileQuarantined:
		return nil, apperrors.New(apperrors.ErrContentQuarantined, fmt.Sprintf("file %s", existing.ID()))
	case FileDeleted:
		restored := existing.Restored(req.FileName, req.ContentType, req.FolderID, uc.now())
		if err := uc.repo.Restore(ctx, restored); err != nil {
			return nil, err
		}
		uc.invalidateFile(ctx, existing.ID(), req.OwnerID)
		uc.events.PublishUploaded(ctx, existing.ID(), req.OwnerID)
		existing = restored
	}

	ref := existing.Reference()
	metrics.RecordUpload(string(ref.BackendType()), "deduplicated", 0)
	uc.logger.WithContext(ctx).Info("upload deduplicated",
		zap.String("file_id", existing.ID()),
		zap.String("node_id", ref.NodeID()),
	)
	return &UploadResult{File: existing, NodeID: ref.NodeID(), Deduplicated: true}, nil
}

// discard 尽力删除已写入但未能登记的对象
func (uc *FileUseCase) discard(ctx context.Context, node *StorageNode, physicalPath string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.cfg.OperationTimeout)
	defer cancel()
	if err := uc.backend.Delete(ctx, node, physicalPath); err != nil {
		uc.logger.WithContext(ctx).Warn("failed to discard orphaned object",
			zap.String("node_id", node.NodeID), zap.Error(err))
	}
}
