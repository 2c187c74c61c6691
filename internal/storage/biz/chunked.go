package biz

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"go.uber.org/zap"
)

// ChunkedConfig 分片上传配置
type ChunkedConfig struct {
	SessionTTL     time.Duration
	MaxChunks      int
	SpoolThreshold int64
	SpoolDir       string
	CacheTTL       time.Duration
}

func (c *ChunkedConfig) setDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// ChunkedUploadUseCase 分片上传会话管理
type ChunkedUploadUseCase struct {
	repo     SessionRepo
	files    *FileUseCase
	registry *NodeRegistry
	selector *NodeSelector
	backend  StorageBackend
	enc      *EncryptionService
	cache    Cache
	cfg      ChunkedConfig
	logger   *logger.Logger
	now      func() time.Time
}

// NewChunkedUploadUseCase 创建分片上传用例
func NewChunkedUploadUseCase(
	repo SessionRepo,
	files *FileUseCase,
	registry *NodeRegistry,
	selector *NodeSelector,
	backend StorageBackend,
	enc *EncryptionService,
	cache Cache,
	cfg ChunkedConfig,
	log *logger.Logger,
) *ChunkedUploadUseCase {
	cfg.setDefaults()
	return &ChunkedUploadUseCase{
		repo:     repo,
		files:    files,
		registry: registry,
		selector: selector,
		backend:  backend,
		enc:      enc,
		cache:    cache,
		cfg:      cfg,
		logger:   log.Named("chunked"),
		now:      time.Now,
	}
}

func sessionCacheKey(id string) string {
	return "upload:session:" + id
}

// InitiateRequest 发起分片上传
type InitiateRequest struct {
	OwnerID          string
	FolderID         string
	FileName         string
	ContentType      string
	TotalSize        int64
	TotalChunks      int
	PreferredBackend BackendType
}

// InitiateUpload 创建会话，选定节点并生成会话密钥
func (uc *ChunkedUploadUseCase) InitiateUpload(ctx context.Context, req *InitiateRequest) (*UploadSession, error) {
	switch {
	case req.OwnerID == "":
		return nil, errInvalid("owner is required")
	case strings.TrimSpace(req.FileName) == "":
		return nil, errInvalid("file name is required")
	case req.TotalSize < 0:
		return nil, errInvalid("total size must not be negative")
	case req.TotalChunks <= 0 || req.TotalChunks > uc.cfg.MaxChunks:
		return nil, errInvalid("total chunks must be between 1 and %d", uc.cfg.MaxChunks)
	case uc.files.cfg.MaxUploadSize > 0 && req.TotalSize > uc.files.cfg.MaxUploadSize:
		return nil, errInvalid("file exceeds maximum upload size of %d bytes", uc.files.cfg.MaxUploadSize)
	}

	node, err := uc.selector.SelectNode(ctx, req.PreferredBackend)
	if err != nil {
		return nil, err
	}
	keyRef, err := uc.enc.NewKey(ctx)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	s := &UploadSession{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		FolderID:    req.FolderID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
		Status:      SessionInitiated,
		NodeID:      node.NodeID,
		KeyRef:      keyRef,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(uc.cfg.SessionTTL),
	}
	if err := uc.repo.Create(ctx, s); err != nil {
		_ = uc.enc.DropKey(ctx, keyRef)
		return nil, err
	}

	metrics.RecordChunkSession("initiated")
	uc.logger.WithContext(logger.WithSessionID(ctx, s.ID)).Info("chunked upload initiated",
		zap.String("node_id", node.NodeID),
		zap.Int("total_chunks", s.TotalChunks),
		zap.Int64("total_size", s.TotalSize),
	)
	return s, nil
}

// ChunkUpload 单个分片写入
type ChunkUpload struct {
	SessionID   string
	OwnerID     string
	ChunkNumber int
	Size        int64  // 声明大小，<=0 表示未知
	Checksum    string // 客户端 SHA-256，可选
	Content     io.Reader
}

// UploadChunk 校验会话状态后写入分片；同编号重复上传会覆盖
func (uc *ChunkedUploadUseCase) UploadChunk(ctx context.Context, in *ChunkUpload) (*UploadSession, error) {
	s, err := uc.writableSession(ctx, in.SessionID, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if in.ChunkNumber < 0 || in.ChunkNumber >= s.TotalChunks {
		return nil, apperrors.New(apperrors.ErrChunkOutOfRange,
			fmt.Sprintf("chunk %d not in [0, %d)", in.ChunkNumber, s.TotalChunks))
	}
	if in.Content == nil {
		return nil, errInvalid("chunk content is required")
	}

	node, err := uc.registry.Get(ctx, s.NodeID)
	if err != nil {
		return nil, err
	}
	if err := node.requireReadable(); err != nil {
		return nil, err
	}

	buf := newSpool(uc.cfg.SpoolThreshold, uc.cfg.SpoolDir)
	defer buf.Close()
	sum, err := ComputeChecksum(io.TeeReader(in.Content, buf), AlgorithmSHA256)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrBadRequest, "failed to read chunk")
	}
	if in.Checksum != "" && !sum.Matches(in.Checksum) {
		return nil, apperrors.New(apperrors.ErrChecksumMismatch, fmt.Sprintf("chunk %d", in.ChunkNumber))
	}
	if in.Size > 0 && in.Size != buf.Size() {
		return nil, apperrors.New(apperrors.ErrSizeMismatch,
			fmt.Sprintf("chunk %d: declared %d bytes, received %d", in.ChunkNumber, in.Size, buf.Size()))
	}

	body, err := buf.Reader()
	if err != nil {
		return nil, err
	}
	res, err := uc.backend.Store(ctx, node, &StoreRequest{
		Bucket:      BucketFor(node, s.CreatedAt),
		BasePath:    ChunkBasePath(s.ID),
		FileName:    ChunkName(s.FileName, in.ChunkNumber),
		ContentType: "application/octet-stream",
		Size:        buf.Size(),
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	location, err := uc.enc.EncryptWithKey(ctx, res.PhysicalPath, s.KeyRef)
	if err != nil {
		uc.files.discard(ctx, node, res.PhysicalPath)
		return nil, err
	}

	now := uc.now()
	updated, err := uc.repo.SaveChunk(ctx, &FileChunk{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		ChunkNumber: in.ChunkNumber,
		TotalChunks: s.TotalChunks,
		Size:        res.BytesWritten,
		Checksum:    sum,
		Location:    location,
		Status:      ChunkCompleted,
		UploadedAt:  &now,
	})
	if err != nil {
		// 会话已关闭或写库失败，分片对象无人引用
		uc.files.discard(ctx, node, res.PhysicalPath)
		return nil, err
	}

	uc.invalidateSession(ctx, s.ID)
	metrics.RecordChunk()
	uc.logger.WithContext(logger.WithSessionID(ctx, s.ID)).Debug("chunk stored",
		zap.Int("chunk", in.ChunkNumber),
		zap.Int64("size", res.BytesWritten),
		zap.Int("uploaded", updated.UploadedChunks),
	)
	return updated, nil
}

// GetSession 读取会话（读穿缓存），过期会话在访问时标记为 EXPIRED
func (uc *ChunkedUploadUseCase) GetSession(ctx context.Context, sessionID, ownerID string) (*UploadSession, error) {
	return uc.ownedSession(ctx, sessionID, ownerID)
}

// ListChunks 列出已记录分片
func (uc *ChunkedUploadUseCase) ListChunks(ctx context.Context, sessionID, ownerID string) ([]*FileChunk, error) {
	if _, err := uc.ownedSession(ctx, sessionID, ownerID); err != nil {
		return nil, err
	}
	return uc.repo.ListChunks(ctx, sessionID)
}

// GetMissingChunks 返回 [0,totalChunks) 中尚未完成的分片编号（升序）
func (uc *ChunkedUploadUseCase) GetMissingChunks(ctx context.Context, sessionID, ownerID string) ([]int, error) {
	s, err := uc.ownedSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	chunks, err := uc.repo.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return MissingChunks(s.TotalChunks, chunks), nil
}

// MissingChunks 计算缺失分片
func MissingChunks(total int, chunks []*FileChunk) []int {
	have := make(map[int]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Status == ChunkCompleted {
			have[c.ChunkNumber] = struct{}{}
		}
	}
	missing := make([]int, 0, max(total-len(have), 0))
	for i := 0; i < total; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// CompleteUpload 复核分片行后按序拼接，走普通上传流程生成聚合，再清理分片
func (uc *ChunkedUploadUseCase) CompleteUpload(ctx context.Context, sessionID, ownerID string) (*UploadResult, error) {
	s, err := uc.writableSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithSessionID(ctx, s.ID)

	chunks, err := uc.repo.ListChunks(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if missing := MissingChunks(s.TotalChunks, chunks); len(missing) > 0 {
		return nil, apperrors.New(apperrors.ErrMissingChunks, fmt.Sprintf("%d of %d chunks missing", len(missing), s.TotalChunks))
	}

	ordered := completedInOrder(chunks)
	var total int64
	for _, c := range ordered {
		total += c.Size
	}
	if total != s.TotalSize {
		return nil, apperrors.New(apperrors.ErrSizeMismatch,
			fmt.Sprintf("declared %d bytes, chunks hold %d", s.TotalSize, total))
	}

	node, err := uc.registry.Get(ctx, s.NodeID)
	if err != nil {
		return nil, err
	}
	if err := node.requireReadable(); err != nil {
		return nil, err
	}

	assembled := &chunkReader{ctx: ctx, chunks: ordered, open: func(ctx context.Context, c *FileChunk) (io.ReadCloser, error) {
		p, err := uc.enc.DecryptPath(ctx, c.Location, s.KeyRef)
		if err != nil {
			return nil, err
		}
		return uc.backend.Retrieve(ctx, node, p)
	}}
	defer assembled.Close()

	result, err := uc.files.Upload(ctx, &UploadRequest{
		OwnerID:          s.OwnerID,
		FolderID:         s.FolderID,
		FileName:         s.FileName,
		ContentType:      s.ContentType,
		Size:             s.TotalSize,
		PreferredBackend: node.BackendType,
		Content:          assembled,
	})
	if err != nil {
		return nil, err
	}

	uc.purgeArtifacts(ctx, s, ordered)
	if err := uc.repo.UpdateStatus(ctx, s.ID, SessionCompleted, result.File.ID(), uc.now()); err != nil {
		return nil, err
	}
	uc.invalidateSession(ctx, s.ID)

	metrics.RecordChunkSession("completed")
	uc.logger.WithContext(ctx).Info("chunked upload completed",
		zap.String("file_id", result.File.ID()),
		zap.Bool("deduplicated", result.Deduplicated),
	)
	return result, nil
}

// CancelUpload 任意状态均可取消：尽力删除分片后标记 FAILED
func (uc *ChunkedUploadUseCase) CancelUpload(ctx context.Context, sessionID, ownerID string) error {
	s, err := uc.ownedSession(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	ctx = logger.WithSessionID(ctx, s.ID)

	chunks, err := uc.repo.ListChunks(ctx, s.ID)
	if err != nil {
		uc.logger.WithContext(ctx).Warn("failed to list chunks for cleanup", zap.Error(err))
	}
	uc.purgeArtifacts(ctx, s, chunks)

	if err := uc.repo.UpdateStatus(ctx, s.ID, SessionFailed, s.FileID, uc.now()); err != nil {
		return err
	}
	uc.invalidateSession(ctx, s.ID)

	metrics.RecordChunkSession("cancelled")
	uc.logger.WithContext(ctx).Info("chunked upload cancelled", zap.Int("chunks", len(chunks)))
	return nil
}

// SweepExpired 将过期的开放会话标记为 EXPIRED 并清理分片，返回处理数量
func (uc *ChunkedUploadUseCase) SweepExpired(ctx context.Context, batch int) (int, error) {
	sessions, err := uc.repo.FindExpired(ctx, uc.now(), batch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		sctx := logger.WithSessionID(ctx, s.ID)
		chunks, err := uc.repo.ListChunks(sctx, s.ID)
		if err != nil {
			uc.logger.WithContext(sctx).Warn("failed to list chunks for sweep", zap.Error(err))
			continue
		}
		uc.purgeArtifacts(sctx, s, chunks)
		if err := uc.repo.UpdateStatus(sctx, s.ID, SessionExpired, "", uc.now()); err != nil {
			uc.logger.WithContext(sctx).Error("failed to expire session", zap.Error(err))
			continue
		}
		uc.invalidateSession(sctx, s.ID)
		metrics.RecordChunkSession("expired")
		swept++
	}
	return swept, nil
}

// ownedSession 加载会话并校验所有权；开放但已过期的会话就地标记为 EXPIRED
func (uc *ChunkedUploadUseCase) ownedSession(ctx context.Context, sessionID, ownerID string) (*UploadSession, error) {
	var s *UploadSession
	var cached UploadSession
	if hit, err := uc.cache.Get(ctx, sessionCacheKey(sessionID), &cached); err == nil && hit {
		s = &cached
	} else {
		if err != nil {
			uc.logger.WithContext(ctx).Debug("session cache read failed", zap.Error(err))
		}
		loaded, err := uc.repo.FindByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s = loaded
		if err := uc.cache.Set(ctx, sessionCacheKey(s.ID), s, uc.cfg.CacheTTL); err != nil {
			uc.logger.WithContext(ctx).Debug("session cache write failed", zap.Error(err))
		}
	}

	if s.OwnerID != ownerID {
		return nil, errSessionNotOwned(sessionID)
	}

	if s.IsOpen() && s.IsExpiredAt(uc.now()) {
		if err := uc.repo.UpdateStatus(ctx, s.ID, SessionExpired, "", uc.now()); err != nil {
			return nil, err
		}
		uc.invalidateSession(ctx, s.ID)
		metrics.RecordChunkSession("expired")
		s.Status = SessionExpired
	}
	return s, nil
}

// writableSession 会话必须属于调用者、未过期且仍为开放状态
func (uc *ChunkedUploadUseCase) writableSession(ctx context.Context, sessionID, ownerID string) (*UploadSession, error) {
	s, err := uc.ownedSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Status == SessionExpired:
		return nil, apperrors.New(apperrors.ErrSessionExpired, fmt.Sprintf("session %s", s.ID))
	case !s.IsOpen():
		return nil, apperrors.New(apperrors.ErrSessionClosed, fmt.Sprintf("session %s is %s", s.ID, s.Status))
	}
	return s, nil
}

// purgeArtifacts 尽力删除分片对象、分片行与会话密钥，失败只记录日志
func (uc *ChunkedUploadUseCase) purgeArtifacts(ctx context.Context, s *UploadSession, chunks []*FileChunk) {
	log := uc.logger.WithContext(ctx)

	node, err := uc.registry.Get(ctx, s.NodeID)
	if err != nil {
		log.Warn("chunk node unavailable for cleanup", zap.String("node_id", s.NodeID), zap.Error(err))
	} else {
		for _, c := range chunks {
			p, err := uc.enc.DecryptPath(ctx, c.Location, s.KeyRef)
			if err != nil {
				log.Warn("failed to decrypt chunk location", zap.Int("chunk", c.ChunkNumber), zap.Error(err))
				continue
			}
			delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.files.cfg.OperationTimeout)
			err = uc.backend.Delete(delCtx, node, p)
			cancel()
			if err != nil && !apperrors.IsKind(err, apperrors.KindNotFound) {
				log.Warn("failed to delete chunk object", zap.Int("chunk", c.ChunkNumber), zap.Error(err))
			}
		}
	}

	if err := uc.repo.DeleteChunks(ctx, s.ID); err != nil {
		log.Warn("failed to delete chunk rows", zap.Error(err))
	}
	if err := uc.enc.DropKey(ctx, s.KeyRef); err != nil {
		log.Warn("failed to drop session key", zap.Error(err))
	}
}

func (uc *ChunkedUploadUseCase) invalidateSession(ctx context.Context, sessionID string) {
	if err := uc.cache.Delete(ctx, sessionCacheKey(sessionID)); err != nil {
		uc.logger.WithContext(ctx).Warn("session cache invalidation failed", zap.Error(err))
	}
}

func completedInOrder(chunks []*FileChunk) []*FileChunk {
	out := make([]*FileChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Status == ChunkCompleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out
}

// chunkReader 按序惰性打开各分片，拼接成单一流
type chunkReader struct {
	ctx    context.Context
	chunks []*FileChunk
	open   func(ctx context.Context, c *FileChunk) (io.ReadCloser, error)
	cur    io.ReadCloser
	next   int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.chunks) {
				return 0, io.EOF
			}
			rc, err := r.open(r.ctx, r.chunks[r.next])
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", r.chunks[r.next].ChunkNumber, err)
			}
			r.cur = rc
			r.next++
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

