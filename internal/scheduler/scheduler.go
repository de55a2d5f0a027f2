// Package scheduler runs the periodic reconciliation jobs: the
// expiration sweep and the gateway poll.  When a Locker is configured
// only the instance holding a job's lock runs it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

const (
	JobSweep = "sweep"
	JobPoll  = "poll"

	lockPrefix = "raffle:jobs:"
)

// Reconciler is the part of the engine the jobs drive.
type Reconciler interface {
	SweepExpired(ctx context.Context, now time.Time) (service.SweepReport, error)
	Poll(ctx context.Context, limit int) (service.PollReport, error)
}

// Locker elects the instance that runs a job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Config holds cron specs.  An empty schedule disables the job.
type Config struct {
	SweepSchedule string
	PollSchedule  string
	PollLimit     int
	JobTimeout    time.Duration
	LockTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollLimit <= 0 {
		c.PollLimit = 50
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + 10*time.Second
	}
	return c
}

type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	rec     Reconciler
	locker  Locker
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New registers the enabled jobs.  locker may be nil for single
// instance deployments.
func New(cfg Config, rec Reconciler, locker Locker, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) (*Scheduler, error) {
	if rec == nil {
		return nil, errors.New("scheduler: reconciler is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		cfg:     cfg.withDefaults(),
		rec:     rec,
		locker:  locker,
		clock:   clk,
		metrics: m,
		log:     log.Named("scheduler"),
	}
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobSweep, s.cfg.SweepSchedule, s.RunSweep},
		{JobPoll, s.cfg.PollSchedule, s.RunPoll},
	}
	for _, job := range jobs {
		if job.spec == "" {
			s.log.Info("job disabled", zap.String("job", job.name))
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() { _ = run(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduler: %s schedule %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunSweep expires overdue orders and claims.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	return s.runJob(ctx, JobSweep, func(ctx context.Context) error {
		rep, err := s.rec.SweepExpired(ctx, s.clock.Now())
		if err != nil {
			return err
		}
		if rep.Orders > 0 || rep.Claims > 0 || rep.Stale > 0 {
			s.log.Info("sweep finished", zap.Int("orders", rep.Orders), zap.Int("claims", rep.Claims), zap.Int("stale_holds", rep.Stale))
		}
		return nil
	})
}

// RunPoll reconciles the most recent gateway payments.
func (s *Scheduler) RunPoll(ctx context.Context) error {
	return s.runJob(ctx, JobPoll, func(ctx context.Context) error {
		rep, err := s.rec.Poll(ctx, s.cfg.PollLimit)
		if err != nil {
			return err
		}
		s.log.Debug("poll finished",
			zap.Int("seen", rep.Seen),
			zap.Int("applied", rep.Applied),
			zap.Int("anomalies", rep.Anomalies),
			zap.Int("failed", rep.Failed),
		)
		return nil
	})
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	log := s.log.With(zap.String("job", name))

	if s.locker != nil {
		key := lockPrefix + name
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.metrics.JobRun(name, "error")
			log.Warn("job lock failed", zap.Error(err))
			return fmt.Errorf("%s: lock: %w", name, err)
		}
		if !ok {
			s.metrics.JobRun(name, "skipped")
			log.Debug("job held by another instance")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), key, token); err != nil {
				log.Warn("job lock release failed", zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	if err := fn(ctx); err != nil {
		s.metrics.JobRun(name, "error")
		log.Error("job failed", zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	s.metrics.JobRun(name, "ok")
	log.Debug("job done", zap.Duration("took", s.clock.Now().Sub(start)))
	return nil
}
