package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`              // 业务错误码（0表示成功）
	Kind    string      `json:"kind,omitempty"`    // 错误分类
	Message string      `json:"message,omitempty"` // 提示信息
	Data    interface{} `json:"data"`              // 实际数据（可能为空对象 {}）
}

// Page 分页数据
type Page struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = struct{}{}
	}
	c.JSON(http.StatusOK, Response{Code: apperrors.Success, Data: data})
}

// Created 创建资源成功（201）
func Created(c *gin.Context, data interface{}) {
	if data == nil {
		data = struct{}{}
	}
	c.JSON(http.StatusCreated, Response{Code: apperrors.Success, Data: data})
}

// Paged 分页响应
func Paged(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, Page{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// HandleError 统一错误处理。5xx 只输出错误码自带的详情，不输出底层错误文本
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	code := apperrors.ExtractCode(err)
	httpStatus := apperrors.GetHTTPStatus(code)

	details := ""
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		details = appErr.Details
		if details == "" && httpStatus < http.StatusInternalServerError {
			details = apperrors.GetDetails(err)
		}
	}

	c.AbortWithStatusJSON(httpStatus, Response{
		Code:    code,
		Kind:    apperrors.GetKind(code).String(),
		Message: apperrors.FormatError(code, details),
		Data:    struct{}{},
	})
}

// ErrorWithCode 使用错误码的错误响应
func ErrorWithCode(c *gin.Context, code int, details ...string) {
	c.AbortWithStatusJSON(apperrors.GetHTTPStatus(code), Response{
		Code:    code,
		Kind:    apperrors.GetKind(code).String(),
		Message: apperrors.FormatError(code, details...),
		Data:    struct{}{},
	})
}
