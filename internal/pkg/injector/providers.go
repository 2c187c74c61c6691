package injector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/storage-gateway/internal/pkg/redis"
	"github.com/lk2023060901/storage-gateway/internal/pkg/sftp"
	"github.com/lk2023060901/storage-gateway/internal/pkg/workerpool"
	"github.com/lk2023060901/storage-gateway/internal/server"
	"github.com/lk2023060901/storage-gateway/internal/storage/backend"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/data"
	"github.com/lk2023060901/storage-gateway/internal/storage/job"
)

const cachePrefix = "storage:"

// Data layer helpers

func provideZapLogger(log *logger.Logger) *zap.Logger {
	return log.Logger
}

func provideDB(d *data.Data) *database.DB {
	return d.DB
}

func provideRedisClient(d *data.Data) *pkgredis.Client {
	return d.Redis
}

func provideReadiness(d *data.Data) server.ReadinessChecker {
	return d
}

func provideWorkerPool(config *conf.Config, log *zap.Logger) (*workerpool.Pool, func(), error) {
	cfg := workerpool.DefaultConfig()
	if config.WorkerPool.Workers > 0 {
		cfg.Workers = config.WorkerPool.Workers
	}
	if config.WorkerPool.QueueSize > 0 {
		cfg.QueueSize = config.WorkerPool.QueueSize
	}
	pool, err := workerpool.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.Storage.OperationTimeout)
		defer cancel()
		if err := pool.Shutdown(ctx); err != nil {
			log.Warn("worker pool shutdown incomplete", zap.Error(err))
		}
	}
	return pool, cleanup, nil
}

// Key custody

func provideKeyStore(config *conf.Config, db *database.DB) (biz.KeyStore, error) {
	if config.Security.KeyStore == conf.KeyStoreMemory {
		return biz.NewMemoryKeyStore(config.Security.MemoryKeyCapacity), nil
	}
	kek, err := crypto.DeriveKey([]byte(config.Security.MasterSecret), crypto.PurposeKeyWrapping)
	if err != nil {
		return nil, fmt.Errorf("derive key-encryption key: %w", err)
	}
	repo, err := data.NewKeyRepo(db, kek)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func provideEncryptionService(config *conf.Config, keys biz.KeyStore) (*biz.EncryptionService, error) {
	credKey, err := crypto.DeriveKey([]byte(config.Security.MasterSecret), crypto.PurposeCredentials)
	if err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}
	return biz.NewEncryptionService(keys, credKey)
}

// Repository providers

func provideFileRepo(db *database.DB) biz.FileRepo {
	return data.NewFileRepo(db)
}

func provideNodeRepo(db *database.DB) biz.NodeRepo {
	return data.NewNodeRepo(db)
}

func provideSessionRepo(db *database.DB) biz.SessionRepo {
	return data.NewSessionRepo(db)
}

func provideCache(client *pkgredis.Client) biz.Cache {
	return data.NewRedisCache(client, cachePrefix)
}

func provideEventPublisher(client *pkgredis.Client, pool *workerpool.Pool, log *logger.Logger) biz.EventPublisher {
	return data.NewRedisEventPublisher(client, pool, log, 0)
}

// Backend providers

func provideBackendRouter(config *conf.Config, enc *biz.EncryptionService, log *zap.Logger) (*backend.Router, error) {
	opts := backend.Options{
		SFTPKnownHostsFile:  config.SFTP.KnownHosts,
		SFTPInsecureHostKey: config.SFTP.InsecureHostKey,
		SFTPDialTimeout:     config.SFTP.DialTimeout,
		SFTPDialRetries:     config.SFTP.DialRetries,
		OperationTimeout:    config.Storage.OperationTimeout,
	}
	return backend.NewRouter(map[biz.BackendType]biz.StorageBackend{
		biz.BackendObjectStoreA:   backend.NewMinIOBackend(enc, opts, log),
		biz.BackendObjectStoreB:   backend.NewS3Backend(enc, opts, log),
		biz.BackendTransferServer: backend.NewSFTPBackend(enc, opts, sftp.Dial, log),
	})
}

func provideStorageBackend(r *backend.Router) biz.StorageBackend {
	return r
}

func provideNodePinger(r *backend.Router) biz.NodePinger {
	return r
}

// Use case providers

func provideNodeSelector(config *conf.Config, registry *biz.NodeRegistry) (*biz.NodeSelector, error) {
	strategy, err := biz.NewSelectionStrategy(config.Storage.SelectionStrategy)
	if err != nil {
		return nil, err
	}
	return biz.NewNodeSelector(registry, strategy, config.Storage.FallbackToAnyBackend), nil
}

func provideFileUseCase(
	config *conf.Config,
	repo biz.FileRepo,
	registry *biz.NodeRegistry,
	selector *biz.NodeSelector,
	storage biz.StorageBackend,
	enc *biz.EncryptionService,
	events biz.EventPublisher,
	cache biz.Cache,
	log *logger.Logger,
) (*biz.FileUseCase, error) {
	algorithm, err := biz.ParseChecksumAlgorithm(config.Storage.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}
	return biz.NewFileUseCase(repo, registry, selector, storage, enc, events, cache, biz.FileConfig{
		Algorithm:        algorithm,
		SpoolThreshold:   config.Storage.SpoolThreshold,
		SpoolDir:         config.Storage.SpoolDir,
		MaxUploadSize:    config.Storage.MaxUploadSize,
		PresignExpiry:    config.Storage.PresignExpiry,
		MaxPresignExpiry: config.Storage.MaxPresignExpiry,
		CacheTTL:         config.Storage.CacheTTL,
		OperationTimeout: config.Storage.OperationTimeout,
	}, log), nil
}

func provideChunkedUploadUseCase(
	config *conf.Config,
	repo biz.SessionRepo,
	files *biz.FileUseCase,
	registry *biz.NodeRegistry,
	selector *biz.NodeSelector,
	storage biz.StorageBackend,
	enc *biz.EncryptionService,
	cache biz.Cache,
	log *logger.Logger,
) *biz.ChunkedUploadUseCase {
	return biz.NewChunkedUploadUseCase(repo, files, registry, selector, storage, enc, cache, biz.ChunkedConfig{
		SessionTTL:     config.Chunked.SessionTTL,
		MaxChunks:      config.Chunked.MaxChunks,
		SpoolThreshold: config.Storage.SpoolThreshold,
		SpoolDir:       config.Storage.SpoolDir,
		CacheTTL:       config.Storage.CacheTTL,
	}, log)
}

// Transport providers

func provideJWTManager(config *conf.Config) (*auth.JWTManager, error) {
	return auth.NewJWTManager(config.Auth.JWTSecret, config.Auth.Issuer, config.Auth.TokenTTL)
}

func provideScheduler(
	config *conf.Config,
	sweeper *biz.ChunkedUploadUseCase,
	registry *biz.NodeRegistry,
	pinger biz.NodePinger,
	client *pkgredis.Client,
	log *logger.Logger,
) (*job.Scheduler, error) {
	return job.NewScheduler(sweeper, registry, pinger, client, job.Config{
		SweepInterval:  config.Chunked.SweepInterval,
		SweepBatch:     config.Chunked.SweepBatch,
		HealthInterval: config.Chunked.HealthInterval,
		JobTimeout:     config.Chunked.JobTimeout,
	}, log)
}
