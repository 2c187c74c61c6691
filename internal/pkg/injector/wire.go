//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/server"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/data"
	"github.com/lk2023060901/storage-gateway/internal/storage/service"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	dataProviderSet,

	// Key custody and encryption
	securityProviderSet,

	// Repositories
	repositoryProviderSet,

	// Storage backends
	backendProviderSet,

	// Use cases
	useCaseProviderSet,

	// HTTP services
	httpServiceProviderSet,

	// Servers and jobs
	serverProviderSet,
)

// Data layer providers
var dataProviderSet = wire.NewSet(
	provideZapLogger,
	data.NewData,
	provideDB,
	provideRedisClient,
	provideReadiness,
	provideWorkerPool,
)

var securityProviderSet = wire.NewSet(
	provideKeyStore,
	provideEncryptionService,
	provideJWTManager,
)

// Repository providers
var repositoryProviderSet = wire.NewSet(
	provideFileRepo,
	provideNodeRepo,
	provideSessionRepo,
	provideCache,
	provideEventPublisher,
)

var backendProviderSet = wire.NewSet(
	provideBackendRouter,
	provideStorageBackend,
	provideNodePinger,
)

// Use case providers
var useCaseProviderSet = wire.NewSet(
	biz.NewNodeRegistry,
	provideNodeSelector,
	provideFileUseCase,
	provideChunkedUploadUseCase,
)

// HTTP service providers
var httpServiceProviderSet = wire.NewSet(
	service.NewFileService,
	service.NewUploadService,
	service.NewNodeService,
)

// Server providers
var serverProviderSet = wire.NewSet(
	server.NewHTTPServer,
	server.NewGRPCServer,
	provideScheduler,
)

// InitializeApp initializes the application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, newApp)
	return nil, nil, nil
}
