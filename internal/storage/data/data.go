package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/redis"
)

// Data 持有数据层共享连接
type Data struct {
	DB     *database.DB
	Redis  *redis.Client
	logger *logger.Logger
}

// NewData 建立数据库与 Redis 连接，按需执行迁移
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	if config.Database.AutoMigrate {
		if err := Migrate(db.GetDB()); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database migrations applied")
	}

	rdb, err := redis.New(&config.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	d := &Data{DB: db, Redis: rdb, logger: log}
	cleanup := func() {
		log.Info("cleaning up data resources")
		if err := rdb.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
	return d, cleanup, nil
}

// Readiness 检查数据库与 Redis 可用性，返回各依赖的状态
func (d *Data) Readiness(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "redis": "ok"}
	var firstErr error
	if err := d.DB.HealthCheck(ctx); err != nil {
		checks["database"] = err.Error()
		firstErr = err
	}
	if err := d.Redis.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		if firstErr == nil {
			firstErr = err
		}
	}
	return checks, firstErr
}
