package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plateful/mealplanner-backend/pkg/logger"
	"github.com/plateful/mealplanner-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service sweeps the registered jobs on a fixed cadence. Each sweep is
// guarded by a distributed lock so only one worker replica does the work.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("cron service needs a logger")
	}
	if params.Lock == nil {
		return nil, errors.New("cron service needs a lock")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run sweeps once immediately, then on every tick until the context ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.sweep(ctx); err != nil {
		s.logg.Error(ctx, "cron.sweep.failed", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.loop.stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logg.Error(ctx, "cron.sweep.failed", err)
			}
		}
	}
}

func (s *Service) sweep(ctx context.Context) error {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		s.logg.Info(ctx, "cron.sweep.skipped")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "cron.lock.release_failed", err)
		}
	}()

	jobs := s.registry.Jobs()
	s.logg.Info(s.logg.WithField(ctx, "job_count", len(jobs)), "cron.sweep.start")
	for _, job := range jobs {
		s.execute(ctx, job)
	}
	s.logg.Info(ctx, "cron.sweep.done")
	return nil
}

// execute runs one job and records its outcome. A failing job never stops
// the sweep; the remaining jobs still run.
func (s *Service) execute(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job_name", job.Name())
	s.logg.Info(jobCtx, "cron.job.start")

	started := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(started)

	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), elapsed)
	}
	jobCtx = s.logg.WithField(jobCtx, "elapsed_ms", elapsed.Milliseconds())

	if err != nil {
		s.logg.Error(jobCtx, "cron.job.failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(job.Name())
		}
		return
	}
	s.logg.Info(jobCtx, "cron.job.done")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
}
