package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// Config Worker Pool 配置
type Config struct {
	Workers int // worker 数量
	// QueueSize 排队任务上限，超过后 Submit 立即返回 ErrPoolOverload
	QueueSize int
	// ExpiryDuration 空闲 worker 回收间隔
	ExpiryDuration time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        16,
		QueueSize:      1000,
		ExpiryDuration: time.Minute,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic
	Rejected  int64 // 被拒绝
	Running   int   // 运行中
}

// Pool 基于 ants 的有界任务池。任务 panic 被恢复并记录日志
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("workerpool: workers must be > 0")
	}

	p := &Pool{logger: logger}
	var opts []ants.Option
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}
	if config.QueueSize > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(config.QueueSize))
	} else {
		opts = append(opts, ants.WithNonblocking(true))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				p.panicked.Add(1)
				p.logger.Error("worker panic", zap.Any("error", v), zap.Stack("stack"))
				return
			}
			p.completed.Add(1)
		}()
		task()
	})
	if err != nil {
		p.wg.Done()
		p.rejected.Add(1)
		switch {
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		case errors.Is(err, ants.ErrPoolOverload):
			return ErrPoolOverload
		}
		return err
	}
	p.submitted.Add(1)
	return nil
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
		Running:   p.pool.Running(),
	}
}

// Shutdown 停止接收任务并等待已提交任务完成，ctx 到期后直接释放
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("worker pool shutdown timed out", zap.Int("running", p.pool.Running()))
	}
	p.pool.Release()
	return err
}
