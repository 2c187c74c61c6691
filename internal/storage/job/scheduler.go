// Package job runs the gateway's periodic maintenance: expiring abandoned
// chunked-upload sessions and probing storage node health. With several
// gateway replicas each run is guarded by a Redis lock so only one replica
// does the work per tick.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/redis"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// Job tags, also used as lock names.
const (
	TagSessionSweep = "session-sweep"
	TagNodeHealth   = "node-health"

	lockPrefix = "storage:job:"
)

// Locker runs fn only when the named lock could be taken.
type Locker interface {
	WithLock(ctx context.Context, key string, expiration time.Duration, fn func(ctx context.Context) error) error
}

// SessionSweeper expires overdue upload sessions.
type SessionSweeper interface {
	SweepExpired(ctx context.Context, batch int) (int, error)
}

// HealthProber probes every registered node.
type HealthProber interface {
	ProbeHealth(ctx context.Context, pinger biz.NodePinger) (*biz.ProbeReport, error)
}

// Config controls job cadence. A zero interval disables that job.
type Config struct {
	SweepInterval  time.Duration
	SweepBatch     int
	HealthInterval time.Duration
	// JobTimeout bounds one run and doubles as the lock TTL.
	JobTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
}

// Scheduler owns the gocron scheduler and the job bodies.
type Scheduler struct {
	cron    *gocron.Scheduler
	sweeper SessionSweeper
	prober  HealthProber
	pinger  biz.NodePinger
	locker  Locker
	cfg     Config
	logger  *logger.Logger
}

// NewScheduler wires the jobs. locker may be nil for single-replica setups.
func NewScheduler(sweeper SessionSweeper, prober HealthProber, pinger biz.NodePinger, locker Locker, cfg Config, log *logger.Logger) (*Scheduler, error) {
	cfg.setDefaults()
	s := &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		sweeper: sweeper,
		prober:  prober,
		pinger:  pinger,
		locker:  locker,
		cfg:     cfg,
		logger:  log.Named("scheduler"),
	}
	s.cron.SetMaxConcurrentJobs(1, gocron.WaitMode)

	if cfg.SweepInterval > 0 {
		if err := s.every(cfg.SweepInterval, TagSessionSweep, s.sweepSessions); err != nil {
			return nil, err
		}
	}
	if cfg.HealthInterval > 0 {
		if err := s.every(cfg.HealthInterval, TagNodeHealth, s.probeNodes); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) every(interval time.Duration, tag string, run func(ctx context.Context) error) error {
	_, err := s.cron.Every(interval).Tag(tag).SingletonMode().Do(func() {
		s.runJob(tag, run)
	})
	return err
}

// runJob applies the timeout and the cross-replica lock around one run.
func (s *Scheduler) runJob(tag string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, lockPrefix+tag, s.cfg.JobTimeout, run)
	} else {
		err = run(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, redis.ErrLockNotAcquired):
		s.logger.Debug("job skipped, another replica holds the lock", zap.String("job", tag))
	default:
		s.logger.Error("job failed", zap.String("job", tag), zap.Error(err))
	}
}

func (s *Scheduler) sweepSessions(ctx context.Context) error {
	n, err := s.sweeper.SweepExpired(ctx, s.cfg.SweepBatch)
	if n > 0 {
		s.logger.Info("expired upload sessions swept", zap.Int("sessions", n))
	}
	return err
}

func (s *Scheduler) probeNodes(ctx context.Context) error {
	report, err := s.prober.ProbeHealth(ctx, s.pinger)
	if report != nil && (len(report.WentDown) > 0 || len(report.CameBack) > 0) {
		s.logger.Info("node health changed",
			zap.Int("checked", report.Checked),
			zap.Strings("went_down", report.WentDown),
			zap.Strings("came_back", report.CameBack),
		)
	}
	return err
}

// Jobs reports the tags of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	var tags []string
	for _, j := range s.cron.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

// RunNow triggers the job with tag immediately.
func (s *Scheduler) RunNow(tag string) error {
	return s.cron.RunByTag(tag)
}

// Start runs the scheduler until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.cron.Jobs()) == 0 {
		s.logger.Info("no background jobs configured")
		<-ctx.Done()
		return nil
	}
	s.logger.Info("starting scheduler", zap.Strings("jobs", s.Jobs()))
	s.cron.StartAsync()
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron.IsRunning() {
		s.cron.Stop()
		s.logger.Info("scheduler stopped")
	}
}
