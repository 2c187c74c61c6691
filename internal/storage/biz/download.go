package biz

import (
	"context"
	"io"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"go.uber.org/zap"
)

// DownloadResult 下载结果，调用方负责关闭 Content
type DownloadResult struct {
	File    *FileAggregate
	Content io.ReadCloser
}

// Download 校验所有权与状态后解密位置并从后端读取
func (uc *FileUseCase) Download(ctx context.Context, fileID, ownerID string) (*DownloadResult, error) {
	f, err := uc.downloadable(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}
	node, physicalPath, err := uc.resolve(ctx, f)
	if err != nil {
		return nil, err
	}

	rc, err := uc.backend.Retrieve(ctx, node, physicalPath)
	metrics.RecordDownload(string(node.BackendType), err == nil)
	if err != nil {
		return nil, err
	}
	return &DownloadResult{File: f, Content: rc}, nil
}

// PresignURL 为支持的后端生成临时链接；expiry<=0 使用默认值，超过上限时截断
func (uc *FileUseCase) PresignURL(ctx context.Context, fileID, ownerID string, expiry time.Duration) (*PresignedURL, error) {
	f, err := uc.downloadable(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}
	if !f.Reference().BackendType().IsObjectStore() {
		return nil, apperrors.New(apperrors.ErrPresignUnsupported, string(f.Reference().BackendType()))
	}

	switch {
	case expiry <= 0:
		expiry = uc.cfg.PresignExpiry
	case expiry > uc.cfg.MaxPresignExpiry:
		expiry = uc.cfg.MaxPresignExpiry
	}

	node, physicalPath, err := uc.resolve(ctx, f)
	if err != nil {
		return nil, err
	}
	url, err := uc.backend.PresignURL(ctx, node, physicalPath, expiry)
	if err != nil {
		return nil, err
	}

	uc.logger.WithContext(ctx).Info("presigned url issued",
		zap.String("file_id", fileID),
		zap.String("node_id", node.NodeID),
		zap.Duration("expiry", expiry),
	)
	return &PresignedURL{URL: url, ExpiresAt: uc.now().Add(expiry)}, nil
}

func (uc *FileUseCase) downloadable(ctx context.Context, fileID, ownerID string) (*FileAggregate, error) {
	f, err := uc.ownedFile(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}
	if !f.CanDownload() {
		return nil, apperrors.New(apperrors.ErrFileNotActive, string(f.Metadata().Status))
	}
	return f, nil
}

// resolve 定位所属节点并解密物理位置；明文位置只在本次操作内使用
func (uc *FileUseCase) resolve(ctx context.Context, f *FileAggregate) (*StorageNode, string, error) {
	ref := f.Reference()
	node, err := uc.registry.Get(ctx, ref.NodeID())
	if err != nil {
		return nil, "", err
	}
	if err := node.requireReadable(); err != nil {
		return nil, "", err
	}
	physicalPath, err := uc.enc.DecryptPath(ctx, ref.EncryptedPath(), ref.KeyRef())
	if err != nil {
		uc.logger.WithContext(ctx).Error("failed to decrypt storage reference",
			zap.String("file_id", f.ID()),
			zap.Stringer("reference", ref),
		)
		return nil, "", err
	}
	return node, physicalPath, nil
}

// ownedFile 区分"不存在"与"属于他人"
func (uc *FileUseCase) ownedFile(ctx context.Context, fileID, ownerID string) (*FileAggregate, error) {
	f, err := uc.repo.FindByIDAndOwner(ctx, fileID, ownerID)
	if err == nil {
		return f, nil
	}
	if !apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, err
	}
	exists, xerr := uc.repo.Exists(ctx, fileID)
	if xerr != nil {
		return nil, xerr
	}
	if exists {
		return nil, errFileNotOwned(fileID)
	}
	return nil, errFileNotFound(fileID)
}
