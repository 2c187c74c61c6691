package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/metrics"
	"github.com/lk2023060901/storage-gateway/internal/pkg/redis"
	"github.com/lk2023060901/storage-gateway/internal/pkg/workerpool"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// 事件频道
const (
	ChannelUploaded  = "storage.events.uploaded"
	ChannelDeleted   = "storage.events.deleted"
	ChannelVirusScan = "storage.events.virus_scan"
)

const defaultPublishTimeout = 5 * time.Second

// Event 发布到 Redis 的事件负载，位置只含密文
type Event struct {
	Type       string            `json:"type"`
	FileID     string            `json:"file_id"`
	OwnerID    string            `json:"owner_id,omitempty"`
	Location   *biz.ScanLocation `json:"location,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RedisEventPublisher 通过工作池异步发布事件，实现 biz.EventPublisher
type RedisEventPublisher struct {
	client  *redis.Client
	pool    *workerpool.Pool
	logger  *logger.Logger
	timeout time.Duration
}

var _ biz.EventPublisher = (*RedisEventPublisher)(nil)

func NewRedisEventPublisher(client *redis.Client, pool *workerpool.Pool, log *logger.Logger, timeout time.Duration) *RedisEventPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &RedisEventPublisher{
		client:  client,
		pool:    pool,
		logger:  log.Named("events"),
		timeout: timeout,
	}
}

func (p *RedisEventPublisher) PublishUploaded(ctx context.Context, fileID, ownerID string) {
	p.publish(ctx, ChannelUploaded, &Event{Type: "uploaded", FileID: fileID, OwnerID: ownerID})
}

func (p *RedisEventPublisher) PublishDeleted(ctx context.Context, fileID, ownerID string) {
	p.publish(ctx, ChannelDeleted, &Event{Type: "deleted", FileID: fileID, OwnerID: ownerID})
}

func (p *RedisEventPublisher) PublishVirusScanRequest(ctx context.Context, fileID string, location biz.ScanLocation) {
	p.publish(ctx, ChannelVirusScan, &Event{Type: "virus_scan", FileID: fileID, Location: &location})
}

// publish 不阻塞调用方，失败只记录日志与指标
func (p *RedisEventPublisher) publish(ctx context.Context, channel string, ev *Event) {
	ev.OccurredAt = time.Now().UTC()
	ctx = context.WithoutCancel(ctx)
	log := p.logger.WithContext(ctx)

	err := p.pool.Submit(func() {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		raw, err := json.Marshal(ev)
		if err == nil {
			_, err = p.client.Publish(pctx, channel, raw)
		}
		metrics.RecordEvent(ev.Type, err)
		if err != nil {
			log.Warn("event publish failed",
				zap.String("channel", channel),
				zap.String("file_id", ev.FileID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		metrics.RecordEvent(ev.Type, err)
		log.Warn("event dropped", zap.String("channel", channel), zap.String("file_id", ev.FileID), zap.Error(err))
	}
}
