package service

import (
	"time"

	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// File DTO

// UploadFileResponse 上传结果
type UploadFileResponse struct {
	FileID       string `json:"file_id"`
	Checksum     string `json:"checksum"`
	Algorithm    string `json:"algorithm"`
	NodeID       string `json:"node_id"`
	Deduplicated bool   `json:"deduplicated"`
	Size         int64  `json:"size"`
}

// FileResponse 文件元数据。存储位置不对外暴露
type FileResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	FolderID    string `json:"folder_id,omitempty"`
	Status      string `json:"status"`
	Checksum    string `json:"checksum"`
	Algorithm   string `json:"algorithm"`
	BackendType string `json:"backend_type"`
	NodeID      string `json:"node_id"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ListFilesRequest 文件列表请求
type ListFilesRequest struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}

// PresignResponse 临时链接
type PresignResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// Chunked upload DTO

// InitiateUploadRequest 发起分片上传
type InitiateUploadRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type"`
	FolderID    string `json:"folder_id"`
	TotalSize   int64  `json:"total_size" binding:"min=0"`
	TotalChunks int    `json:"total_chunks" binding:"required,min=1"`
	BackendType string `json:"backend_type"`
}

// SessionResponse 会话状态
type SessionResponse struct {
	ID             string  `json:"id"`
	FileName       string  `json:"file_name"`
	ContentType    string  `json:"content_type,omitempty"`
	TotalSize      int64   `json:"total_size"`
	TotalChunks    int     `json:"total_chunks"`
	UploadedChunks int     `json:"uploaded_chunks"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	NodeID         string  `json:"node_id"`
	FileID         string  `json:"file_id,omitempty"`
	ExpiresAt      string  `json:"expires_at"`
	CreatedAt      string  `json:"created_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

// ChunkResponse 分片记录。位置为密文，不对外暴露
type ChunkResponse struct {
	ChunkNumber int     `json:"chunk_number"`
	Size        int64   `json:"size"`
	Checksum    string  `json:"checksum,omitempty"`
	Status      string  `json:"status"`
	UploadedAt  *string `json:"uploaded_at,omitempty"`
}

// MissingChunksResponse 缺失分片
type MissingChunksResponse struct {
	SessionID string `json:"session_id"`
	Missing   []int  `json:"missing"`
}

// Node DTO

// RegisterNodeRequest 注册节点
type RegisterNodeRequest struct {
	NodeID        string `json:"node_id" binding:"required"`
	BackendType   string `json:"backend_type" binding:"required"`
	Endpoint      string `json:"endpoint" binding:"required"`
	PublicURL     string `json:"public_url"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	Bucket        string `json:"bucket"`
	Region        string `json:"region"`
	UseSSL        bool   `json:"use_ssl"`
	TotalCapacity int64  `json:"total_capacity" binding:"required,min=1"`
	Status        string `json:"status"`
}

// UpdateNodeStatusRequest 更新节点状态
type UpdateNodeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// NodeResponse 节点信息，凭据不返回
type NodeResponse struct {
	NodeID          string  `json:"node_id"`
	BackendType     string  `json:"backend_type"`
	Endpoint        string  `json:"endpoint"`
	PublicURL       string  `json:"public_url,omitempty"`
	Bucket          string  `json:"bucket,omitempty"`
	Region          string  `json:"region,omitempty"`
	UseSSL          bool    `json:"use_ssl"`
	TotalCapacity   int64   `json:"total_capacity"`
	UsedCapacity    int64   `json:"used_capacity"`
	UsedPercent     float64 `json:"used_percent"`
	FileCount       int64   `json:"file_count"`
	Status          string  `json:"status"`
	LastHealthCheck *string `json:"last_health_check,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toFileResponse(f *biz.FileAggregate) *FileResponse {
	m, ref, sum := f.Metadata(), f.Reference(), f.Checksum()
	return &FileResponse{
		ID:          f.ID(),
		Name:        m.Name,
		ContentType: m.ContentType,
		Size:        m.Size,
		FolderID:    m.FolderID,
		Status:      string(m.Status),
		Checksum:    sum.Value(),
		Algorithm:   string(sum.Algorithm()),
		BackendType: string(ref.BackendType()),
		NodeID:      ref.NodeID(),
		CreatedAt:   formatTime(m.CreatedAt),
		UpdatedAt:   formatTime(m.UpdatedAt),
	}
}

func toUploadFileResponse(res *biz.UploadResult) *UploadFileResponse {
	sum := res.File.Checksum()
	return &UploadFileResponse{
		FileID:       res.File.ID(),
		Checksum:     sum.Value(),
		Algorithm:    string(sum.Algorithm()),
		NodeID:       res.NodeID,
		Deduplicated: res.Deduplicated,
		Size:         res.File.Metadata().Size,
	}
}

func toSessionResponse(s *biz.UploadSession) *SessionResponse {
	return &SessionResponse{
		ID:             s.ID,
		FileName:       s.FileName,
		ContentType:    s.ContentType,
		TotalSize:      s.TotalSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedChunks,
		Progress:       s.Progress(),
		Status:         string(s.Status),
		NodeID:         s.NodeID,
		FileID:         s.FileID,
		ExpiresAt:      formatTime(s.ExpiresAt),
		CreatedAt:      formatTime(s.CreatedAt),
		CompletedAt:    formatTimePtr(s.CompletedAt),
	}
}

func toChunkResponse(c *biz.FileChunk) *ChunkResponse {
	return &ChunkResponse{
		ChunkNumber: c.ChunkNumber,
		Size:        c.Size,
		Checksum:    c.Checksum.Value(),
		Status:      string(c.Status),
		UploadedAt:  formatTimePtr(c.UploadedAt),
	}
}

func toNodeResponse(n *biz.StorageNode) *NodeResponse {
	return &NodeResponse{
		NodeID:          n.NodeID,
		BackendType:     string(n.BackendType),
		Endpoint:        n.Endpoint,
		PublicURL:       n.PublicURL,
		Bucket:          n.Bucket,
		Region:          n.Region,
		UseSSL:          n.UseSSL,
		TotalCapacity:   n.TotalCapacity,
		UsedCapacity:    n.UsedCapacity,
		UsedPercent:     n.UsedPercent(),
		FileCount:       n.FileCount,
		Status:          string(n.Status),
		LastHealthCheck: formatTimePtr(n.LastHealthCheck),
		CreatedAt:       formatTime(n.CreatedAt),
		UpdatedAt:       formatTime(n.UpdatedAt),
	}
}
