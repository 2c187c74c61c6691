package service

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/response"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// HeaderChunkChecksum 客户端提供的分片 SHA-256（可选）
const HeaderChunkChecksum = "X-Chunk-Checksum"

// UploadService 分片上传接口
type UploadService struct {
	uc *biz.ChunkedUploadUseCase
}

func NewUploadService(uc *biz.ChunkedUploadUseCase) *UploadService {
	return &UploadService{uc: uc}
}

// RegisterRoutes 注册路由（需要先经过 JWTAuth）
func (s *UploadService) RegisterRoutes(r gin.IRouter) {
	uploads := r.Group("/uploads")
	uploads.POST("", s.Initiate)
	uploads.GET("/:id", s.Get)
	uploads.PUT("/:id/chunks/:number", s.UploadChunk)
	uploads.GET("/:id/chunks", s.ListChunks)
	uploads.GET("/:id/missing", s.Missing)
	uploads.POST("/:id/complete", s.Complete)
	uploads.DELETE("/:id", s.Cancel)
}

// Initiate 发起会话
func (s *UploadService) Initiate(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)

	var req InitiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}
	var backend biz.BackendType
	if req.BackendType != "" {
		b, err := biz.ParseBackendType(req.BackendType)
		if err != nil {
			response.HandleError(c, err)
			return
		}
		backend = b
	}

	session, err := s.uc.InitiateUpload(c.Request.Context(), &biz.InitiateRequest{
		OwnerID:          ownerID,
		FolderID:         req.FolderID,
		FileName:         req.FileName,
		ContentType:      req.ContentType,
		TotalSize:        req.TotalSize,
		TotalChunks:      req.TotalChunks,
		PreferredBackend: backend,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toSessionResponse(session))
}

// Get 会话状态
func (s *UploadService) Get(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	session, err := s.uc.GetSession(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toSessionResponse(session))
}

// UploadChunk 请求体即分片内容
func (s *UploadService) UploadChunk(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "chunk number must be an integer")
		return
	}

	session, err := s.uc.UploadChunk(c.Request.Context(), &biz.ChunkUpload{
		SessionID:   c.Param("id"),
		OwnerID:     ownerID,
		ChunkNumber: number,
		Size:        c.Request.ContentLength,
		Checksum:    c.GetHeader(HeaderChunkChecksum),
		Content:     c.Request.Body,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toSessionResponse(session))
}

// ListChunks 已记录分片
func (s *UploadService) ListChunks(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	chunks, err := s.uc.ListChunks(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	items := make([]*ChunkResponse, len(chunks))
	for i, ch := range chunks {
		items[i] = toChunkResponse(ch)
	}
	response.Success(c, items)
}

// Missing 缺失分片编号
func (s *UploadService) Missing(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	id := c.Param("id")
	missing, err := s.uc.GetMissingChunks(c.Request.Context(), id, ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, &MissingChunksResponse{SessionID: id, Missing: missing})
}

// Complete 拼接分片生成文件
func (s *UploadService) Complete(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	res, err := s.uc.CompleteUpload(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toUploadFileResponse(res))
}

// Cancel 取消会话并清理分片
func (s *UploadService) Cancel(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	if err := s.uc.CancelUpload(c.Request.Context(), c.Param("id"), ownerID); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
