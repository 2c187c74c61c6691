package auth

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/response"
	"go.uber.org/zap"
)

// gin 上下文键
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuth JWT 认证中间件
func JWTAuth(m *JWTManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.ErrorWithCode(c, apperrors.ErrUnauthorized, "missing authorization")
			return
		}
		token, err := ExtractTokenFromHeader(authHeader)
		if err != nil {
			response.ErrorWithCode(c, apperrors.ErrUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := m.VerifyToken(token)
		if err != nil {
			log.Warn("invalid access token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()))
			response.ErrorWithCode(c, apperrors.ErrAuthInvalidToken)
			return
		}

		// 将用户信息注入到上下文
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Request = c.Request.WithContext(logger.WithOwnerID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

// RequireRole 角色验证中间件（需要先经过 JWTAuth）
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.ErrorWithCode(c, apperrors.ErrForbidden, "insufficient permissions")
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}
