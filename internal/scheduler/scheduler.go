package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// JobFunc is invoked on every tick of a job.
type JobFunc func(ctx context.Context) error

// Job is one periodic unit of work.
type Job struct {
	Name         string
	Interval     time.Duration
	StartupDelay time.Duration
	Run          JobFunc
}

// Options tune scheduler behaviour.
type Options struct {
	Workers      int
	CycleTimeout time.Duration
}

// Scheduler drives independent periodic jobs on a bounded worker pool.
// Ticks of the same job may overlap when a run outlasts its interval.
type Scheduler struct {
	opts   Options
	jobs   []Job
	pool   *semaphore.Weighted
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger, jobs ...Job) *Scheduler {
	for _, job := range jobs {
		if job.Interval <= 0 {
			panic("scheduler interval must be positive: " + job.Name)
		}
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	return &Scheduler{
		opts:   opts,
		jobs:   jobs,
		pool:   semaphore.NewWeighted(int64(opts.Workers)),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight ticks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	var loops sync.WaitGroup
	for _, job := range s.jobs {
		loops.Add(1)
		go func(job Job) {
			defer loops.Done()
			s.loop(ctx, job)
		}(job)
	}

	<-ctx.Done()
	loops.Wait()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With().Str("job", job.Name).Logger()

	next := time.Now().Add(job.StartupDelay)
	for {
		timer := time.NewTimer(time.Until(next))
		logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.dispatch(ctx, logger, job)

		next = next.Add(job.Interval)
		if now := time.Now(); next.Before(now) {
			next = now
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, logger zerolog.Logger, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.pool.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.pool.Release(1)

		tickCtx := ctx
		if s.opts.CycleTimeout > 0 {
			var cancel context.CancelFunc
			tickCtx, cancel = context.WithTimeout(ctx, s.opts.CycleTimeout)
			defer cancel()
		}

		start := time.Now()
		logger.Info().Msg("executing scheduled tick")
		if err := job.Run(tickCtx); err != nil {
			logger.Error().Err(err).Dur("took", time.Since(start)).Msg("tick execution failed")
			return
		}
		logger.Debug().Dur("took", time.Since(start)).Msg("tick complete")
	}()
}
