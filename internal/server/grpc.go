package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
)

// ServiceName gRPC 健康检查中网关自身的服务名
const ServiceName = "storage.gateway"

const readinessInterval = 10 * time.Second

// GRPCServer gRPC 服务器，仅暴露 grpc.health.v1 与反射
type GRPCServer struct {
	config     *conf.Config
	logger     *logger.Logger
	grpcServer *grpc.Server
	health     *health.Server
	readiness  ReadinessChecker
	interval   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewGRPCServer 创建 gRPC 服务器
func NewGRPCServer(
	config *conf.Config,
	log *logger.Logger,
	readiness ReadinessChecker,
) *GRPCServer {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logger.RecoveryInterceptor(log),
			logger.UnaryServerInterceptor(log, healthpb.Health_Check_FullMethodName),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// 启用反射（用于 grpcurl 等工具）
	reflection.Register(grpcServer)

	return &GRPCServer{
		config:     config,
		logger:     log,
		grpcServer: grpcServer,
		health:     healthServer,
		readiness:  readiness,
		interval:   readinessInterval,
		stop:       make(chan struct{}),
	}
}

// Start 启动 gRPC 服务器
func (s *GRPCServer) Start() error {
	addr := s.config.Server.GRPCAddr()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve 在给定监听器上提供服务，同时周期性刷新健康状态
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("starting gRPC server", zap.String("addr", lis.Addr().String()))

	s.refresh()
	go s.watchReadiness()

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *GRPCServer) watchReadiness() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *GRPCServer) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := s.readiness.Readiness(context.Background()); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("readiness check failed", zap.Error(err))
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Stop 停止 gRPC 服务器
func (s *GRPCServer) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping gRPC server")
		close(s.stop)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	})
}
