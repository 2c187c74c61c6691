//go:build !wireinject
// +build !wireinject

package injector

import (
	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/server"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/data"
	"github.com/lk2023060901/storage-gateway/internal/storage/service"
)

// InitializeApp builds the dependency graph declared in wire.go by hand.
// Keep it in step with ProviderSet; running wire in this package regenerates
// an equivalent file.
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	dataData, cleanup, err := data.NewData(config, log)
	if err != nil {
		return nil, nil, err
	}
	db := provideDB(dataData)
	keyStore, err := provideKeyStore(config, db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	encryptionService, err := provideEncryptionService(config, keyStore)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	nodeRepo := provideNodeRepo(db)
	nodeRegistry := biz.NewNodeRegistry(nodeRepo, encryptionService, log)
	jwtManager, err := provideJWTManager(config)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	readinessChecker := provideReadiness(dataData)
	fileRepo := provideFileRepo(db)
	nodeSelector, err := provideNodeSelector(config, nodeRegistry)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	zapLogger := provideZapLogger(log)
	router, err := provideBackendRouter(config, encryptionService, zapLogger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	storageBackend := provideStorageBackend(router)
	client := provideRedisClient(dataData)
	pool, cleanup2, err := provideWorkerPool(config, zapLogger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	eventPublisher := provideEventPublisher(client, pool, log)
	cache := provideCache(client)
	fileUseCase, err := provideFileUseCase(config, fileRepo, nodeRegistry, nodeSelector, storageBackend, encryptionService, eventPublisher, cache, log)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	fileService := service.NewFileService(fileUseCase, log)
	sessionRepo := provideSessionRepo(db)
	chunkedUploadUseCase := provideChunkedUploadUseCase(config, sessionRepo, fileUseCase, nodeRegistry, nodeSelector, storageBackend, encryptionService, cache, log)
	uploadService := service.NewUploadService(chunkedUploadUseCase)
	nodeService := service.NewNodeService(nodeRegistry)
	httpServer := server.NewHTTPServer(config, log, jwtManager, readinessChecker, fileService, uploadService, nodeService)
	grpcServer := server.NewGRPCServer(config, log, readinessChecker)
	nodePinger := provideNodePinger(router)
	scheduler, err := provideScheduler(config, chunkedUploadUseCase, nodeRegistry, nodePinger, client, log)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	app := newApp(config, log, nodeRegistry, httpServer, grpcServer, scheduler)
	return app, func() {
		cleanup2()
		cleanup()
	}, nil
}
