package service

import (
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/response"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// 下载响应头
const (
	HeaderChecksumAlgorithm = "X-Checksum-Algorithm"
	HeaderChecksumValue     = "X-Checksum-Value"
)

// FileService 文件上传、下载与管理接口
type FileService struct {
	uc     *biz.FileUseCase
	logger *logger.Logger
}

func NewFileService(uc *biz.FileUseCase, log *logger.Logger) *FileService {
	return &FileService{uc: uc, logger: log.Named("file-service")}
}

// RegisterRoutes 注册路由（需要先经过 JWTAuth）
func (s *FileService) RegisterRoutes(r gin.IRouter) {
	files := r.Group("/files")
	files.POST("", s.Upload)
	files.GET("", s.List)
	files.GET("/:id", s.Get)
	files.GET("/:id/content", s.Download)
	files.GET("/:id/url", s.PresignURL)
	files.DELETE("/:id", s.Delete)
}

// Upload 单文件上传（multipart 字段 file）
func (s *FileService) Upload(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "invalid file or field name is not 'file'")
		return
	}
	defer file.Close()

	var backend biz.BackendType
	if raw := c.PostForm("backend_type"); raw != "" {
		if backend, err = biz.ParseBackendType(raw); err != nil {
			response.HandleError(c, err)
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := s.uc.Upload(c.Request.Context(), &biz.UploadRequest{
		OwnerID:          ownerID,
		FolderID:         c.PostForm("folder_id"),
		FileName:         header.Filename,
		ContentType:      contentType,
		Size:             header.Size,
		PreferredBackend: backend,
		Content:          file,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toUploadFileResponse(res))
}

// List 分页列出当前用户的文件
func (s *FileService) List(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)

	var req ListFilesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	files, total, err := s.uc.ListFiles(c.Request.Context(), ownerID, req.Page, req.PageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	items := make([]*FileResponse, len(files))
	for i, f := range files {
		items[i] = toFileResponse(f)
	}
	response.Paged(c, items, total, req.Page, req.PageSize)
}

// Get 文件元数据
func (s *FileService) Get(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	f, err := s.uc.GetFile(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toFileResponse(f))
}

// Download 流式返回文件内容，校验和放在响应头
func (s *FileService) Download(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	res, err := s.uc.Download(c.Request.Context(), c.Param("id"), ownerID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer res.Content.Close()

	m, sum := res.File.Metadata(), res.File.Checksum()
	c.DataFromReader(http.StatusOK, m.Size, m.ContentType, res.Content, map[string]string{
		"Content-Disposition":   mime.FormatMediaType("attachment", map[string]string{"filename": m.Name}),
		HeaderChecksumAlgorithm: string(sum.Algorithm()),
		HeaderChecksumValue:     sum.Value(),
	})
	if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
		s.logger.WithContext(c.Request.Context()).Warn("download stream interrupted",
			zap.String("file_id", res.File.ID()),
			zap.String("error", errs.String()),
		)
	}
}

// PresignURL 临时访问链接，expires 为秒数
func (s *FileService) PresignURL(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)

	var expiry time.Duration
	if raw := c.Query("expires"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			response.ErrorWithCode(c, apperrors.ErrInvalidParams, "expires must be a non-negative number of seconds")
			return
		}
		expiry = time.Duration(secs) * time.Second
	}

	u, err := s.uc.PresignURL(c.Request.Context(), c.Param("id"), ownerID, expiry)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, &PresignResponse{URL: u.URL, ExpiresAt: formatTime(u.ExpiresAt)})
}

// Delete 软删除
func (s *FileService) Delete(c *gin.Context) {
	ownerID, _ := auth.GetUserID(c)
	if err := s.uc.DeleteFile(c.Request.Context(), c.Param("id"), ownerID); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
