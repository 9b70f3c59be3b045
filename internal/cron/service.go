package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ErrUnknownJob is returned by RunJob for names that were never registered.
var ErrUnknownJob = errors.New("unknown cron job")

// ServiceParams configure the cron service. JobTimeout bounds a single run;
// set it no higher than the lock TTL so a slow run cannot outlive its lock.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Locker     Locker
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs every registered job on a fixed cadence. Each run holds the
// job's lock, so several workers can share one schedule.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	locker     Locker
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Locker == nil:
		return nil, errors.New("locker required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		locker:     params.Locker,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run executes all jobs immediately and then once per interval until ctx is
// canceled, returning ctx.Err().
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron schedule stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every registered job a single time and returns each job's
// outcome keyed by name. A failing or locked job does not stop the others.
func (s *Service) RunOnce(ctx context.Context) map[string]string {
	outcomes := make(map[string]string, len(s.registry.Jobs()))
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		outcome, _ := s.runJob(ctx, job)
		outcomes[job.Name()] = outcome
	}
	s.logg.Info(s.logg.WithField(ctx, "outcomes", outcomes), "scheduled run finished")
	return outcomes
}

// RunJob runs the named job now, under the same lock as the schedule.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	_, err := s.runJob(ctx, job)
	return err
}

// JobNames lists the registered jobs in schedule order.
func (s *Service) JobNames() []string {
	jobs := s.registry.Jobs()
	names := make([]string, len(jobs))
	for i, job := range jobs {
		names[i] = job.Name()
	}
	return names
}

func (s *Service) runJob(ctx context.Context, job Job) (string, error) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := time.Now()

	err := RunExclusive(jobCtx, s.locker.ForJob(name), func(ctx context.Context) error {
		if s.jobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
			defer cancel()
		}
		return runGuarded(ctx, job)
	})
	if errors.Is(err, ErrLocked) {
		s.logg.Info(jobCtx, "job lock held elsewhere, skipping")
		s.metrics.IncSkipped(name)
		return metrics.JobOutcomeSkipped, err
	}

	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(name)
		return metrics.JobOutcomeFailure, err
	}
	s.logg.Info(jobCtx, "job finished")
	s.metrics.IncSuccess(name)
	return metrics.JobOutcomeSuccess, nil
}

// runGuarded turns a panicking job into an error so the schedule survives.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Run(ctx)
}
