package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"github.com/lk2023060901/storage-gateway/internal/storage/service"
)

// ReadinessChecker 报告外部依赖（数据库、Redis）是否可用
type ReadinessChecker interface {
	Readiness(ctx context.Context) (map[string]string, error)
}

// HTTPServer 对外 REST 接口
type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

// NewHTTPServer 组装路由：健康检查、指标以及 /api/v1 业务接口
func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	jwt *auth.JWTManager,
	readiness ReadinessChecker,
	fileService *service.FileService,
	uploadService *service.UploadService,
	nodeService *service.NodeService,
) *HTTPServer {
	switch config.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(config.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log, "/health", "/metrics"))
	router.Use(metrics.GinMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/health/liveness", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	router.GET("/health/readiness", func(c *gin.Context) {
		checks, err := readiness.Readiness(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API routes
	api := router.Group("/api/v1")
	api.Use(auth.JWTAuth(jwt, log))
	fileService.RegisterRoutes(api)
	uploadService.RegisterRoutes(api)
	nodeService.RegisterRoutes(api)

	return &HTTPServer{
		server: &http.Server{
			Addr:              config.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// Handler 返回路由，便于测试
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
