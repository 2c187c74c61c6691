package biz

import "time"

// SessionStatus 分片上传会话状态
type SessionStatus string

const (
	SessionInitiated  SessionStatus = "INITIATED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
	SessionExpired    SessionStatus = "EXPIRED"
)

// DefaultSessionTTL 会话有效期
const DefaultSessionTTL = 24 * time.Hour

// UploadSession 分片上传会话。节点在发起时选定，分片位置用会话密钥加密
type UploadSession struct {
	ID             string
	OwnerID        string
	FolderID       string
	FileName       string
	ContentType    string
	TotalSize      int64
	TotalChunks    int
	UploadedChunks int
	Status         SessionStatus
	NodeID         string
	KeyRef         string
	FileID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	CompletedAt    *time.Time
}

// IsOpen 会话仍接受分片
func (s *UploadSession) IsOpen() bool {
	return s.Status == SessionInitiated || s.Status == SessionInProgress
}

// IsExpiredAt 逻辑过期判断，与已上传数量无关
func (s *UploadSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Progress 上传进度百分比
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.UploadedChunks) * 100 / float64(s.TotalChunks)
}

// ChunkStatus 分片状态
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "PENDING"
	ChunkUploading ChunkStatus = "UPLOADING"
	ChunkCompleted ChunkStatus = "COMPLETED"
	ChunkFailed    ChunkStatus = "FAILED"
)

// FileChunk 分片记录，Location 为会话密钥加密后的物理位置
type FileChunk struct {
	ID          string
	SessionID   string
	ChunkNumber int
	TotalChunks int
	Size        int64
	Checksum    FileChecksum
	Location    string
	Status      ChunkStatus
	UploadedAt  *time.Time
}
