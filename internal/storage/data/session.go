package data

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 序列化冲突或死锁时的事务重试次数
const txRetryAttempts = 3

// UploadSessionPO 分片上传会话表
type UploadSessionPO struct {
	ID             string `gorm:"type:varchar(36);primaryKey"`
	OwnerID        string `gorm:"size:64;not null;index"`
	FolderID       string `gorm:"size:64"`
	FileName       string `gorm:"size:255;not null"`
	ContentType    string `gorm:"size:255"`
	TotalSize      int64  `gorm:"not null"`
	TotalChunks    int    `gorm:"not null"`
	UploadedChunks int    `gorm:"not null;default:0"`
	Status         string `gorm:"size:16;not null;index:idx_sessions_status_expires,priority:1"`
	NodeID         string `gorm:"size:64;not null"`
	KeyRef         string `gorm:"size:64;not null"`
	FileID         string `gorm:"size:36"`

	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index:idx_sessions_status_expires,priority:2"`
	CompletedAt *time.Time
}

func (UploadSessionPO) TableName() string {
	return "upload_sessions"
}

// FileChunkPO 分片记录表，(session_id, chunk_number) 唯一
type FileChunkPO struct {
	ID                string `gorm:"type:varchar(36);primaryKey"`
	SessionID         string `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunks_session_number,priority:1"`
	ChunkNumber       int    `gorm:"not null;uniqueIndex:idx_chunks_session_number,priority:2"`
	TotalChunks       int    `gorm:"not null"`
	Size              int64  `gorm:"not null"`
	ChecksumAlgorithm string `gorm:"size:16"`
	Checksum          string `gorm:"size:128"`
	Location          string `gorm:"type:text;not null"`
	Status            string `gorm:"size:16;not null"`
	UploadedAt        *time.Time
}

func (FileChunkPO) TableName() string {
	return "file_chunks"
}

// SessionRepo implements biz.SessionRepo
type SessionRepo struct {
	db *database.DB
}

var _ biz.SessionRepo = (*SessionRepo)(nil)

func NewSessionRepo(db *database.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func toSessionPO(s *biz.UploadSession) *UploadSessionPO {
	return &UploadSessionPO{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		FolderID:       s.FolderID,
		FileName:       s.FileName,
		ContentType:    s.ContentType,
		TotalSize:      s.TotalSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedChunks,
		Status:         string(s.Status),
		NodeID:         s.NodeID,
		KeyRef:         s.KeyRef,
		FileID:         s.FileID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		ExpiresAt:      s.ExpiresAt,
		CompletedAt:    s.CompletedAt,
	}
}

func (po *UploadSessionPO) toSession() *biz.UploadSession {
	return &biz.UploadSession{
		ID:             po.ID,
		OwnerID:        po.OwnerID,
		FolderID:       po.FolderID,
		FileName:       po.FileName,
		ContentType:    po.ContentType,
		TotalSize:      po.TotalSize,
		TotalChunks:    po.TotalChunks,
		UploadedChunks: po.UploadedChunks,
		Status:         biz.SessionStatus(po.Status),
		NodeID:         po.NodeID,
		KeyRef:         po.KeyRef,
		FileID:         po.FileID,
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
		ExpiresAt:      po.ExpiresAt,
		CompletedAt:    po.CompletedAt,
	}
}

func toChunkPO(c *biz.FileChunk) *FileChunkPO {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &FileChunkPO{
		ID:                id,
		SessionID:         c.SessionID,
		ChunkNumber:       c.ChunkNumber,
		TotalChunks:       c.TotalChunks,
		Size:              c.Size,
		ChecksumAlgorithm: string(c.Checksum.Algorithm()),
		Checksum:          c.Checksum.Value(),
		Location:          c.Location,
		Status:            string(c.Status),
		UploadedAt:        c.UploadedAt,
	}
}

func (po *FileChunkPO) toChunk() *biz.FileChunk {
	c := &biz.FileChunk{
		ID:          po.ID,
		SessionID:   po.SessionID,
		ChunkNumber: po.ChunkNumber,
		TotalChunks: po.TotalChunks,
		Size:        po.Size,
		Location:    po.Location,
		Status:      biz.ChunkStatus(po.Status),
		UploadedAt:  po.UploadedAt,
	}
	if po.Checksum != "" {
		// 入库前已校验，这里只做还原
		if sum, err := biz.NewFileChecksum(biz.ChecksumAlgorithm(po.ChecksumAlgorithm), po.Checksum); err == nil {
			c.Checksum = sum
		}
	}
	return c
}

func sessionNotFound(id string) error {
	return apperrors.New(apperrors.ErrSessionNotFound, "session "+id)
}

func (r *SessionRepo) Create(ctx context.Context, s *biz.UploadSession) error {
	return r.db.WithContext(ctx).Create(toSessionPO(s)).Error
}

func (r *SessionRepo) FindByID(ctx context.Context, id string) (*biz.UploadSession, error) {
	var po UploadSessionPO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, sessionNotFound(id)
		}
		return nil, err
	}
	return po.toSession(), nil
}

// SaveChunk 锁定会话行后替换同编号分片，uploaded_chunks 以实际行数为准
func (r *SessionRepo) SaveChunk(ctx context.Context, chunk *biz.FileChunk) (*biz.UploadSession, error) {
	var out *biz.UploadSession
	err := r.db.ExecuteWithRetry(ctx, txRetryAttempts, func(ctx context.Context, tx *gorm.DB) error {
		var po UploadSessionPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chunk.SessionID).First(&po).Error
		if err != nil {
			if database.IsRecordNotFoundError(err) {
				return sessionNotFound(chunk.SessionID)
			}
			return err
		}
		s := po.toSession()
		if !s.IsOpen() {
			return apperrors.New(apperrors.ErrSessionClosed, "session "+s.ID)
		}

		err = tx.Where("session_id = ? AND chunk_number = ?", chunk.SessionID, chunk.ChunkNumber).
			Delete(&FileChunkPO{}).Error
		if err != nil {
			return err
		}
		if err := tx.Create(toChunkPO(chunk)).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&FileChunkPO{}).Where("session_id = ?", s.ID).Count(&count).Error; err != nil {
			return err
		}
		s.UploadedChunks = int(count)
		s.Status = biz.SessionInProgress
		s.UpdatedAt = time.Now()

		err = tx.Model(&UploadSessionPO{}).Where("id = ?", s.ID).UpdateColumns(map[string]interface{}{
			"uploaded_chunks": s.UploadedChunks,
			"status":          string(s.Status),
			"updated_at":      s.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (r *SessionRepo) ListChunks(ctx context.Context, sessionID string) ([]*biz.FileChunk, error) {
	var pos []FileChunkPO
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("chunk_number").Find(&pos).Error
	if err != nil {
		return nil, err
	}
	chunks := make([]*biz.FileChunk, 0, len(pos))
	for i := range pos {
		chunks = append(chunks, pos[i].toChunk())
	}
	return chunks, nil
}

func (r *SessionRepo) DeleteChunks(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&FileChunkPO{}).Error
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, id string, status biz.SessionStatus, fileID string, at time.Time) error {
	updates := map[string]interface{}{
		"status":     string(status),
		"file_id":    fileID,
		"updated_at": at,
	}
	if status == biz.SessionCompleted {
		updates["completed_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&UploadSessionPO{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sessionNotFound(id)
	}
	return nil
}

func (r *SessionRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*biz.UploadSession, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]string{string(biz.SessionInitiated), string(biz.SessionInProgress)}, now).
		Order("expires_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var pos []UploadSessionPO
	if err := q.Find(&pos).Error; err != nil {
		return nil, err
	}
	sessions := make([]*biz.UploadSession, 0, len(pos))
	for i := range pos {
		sessions = append(sessions, pos[i].toSession())
	}
	return sessions, nil
}
