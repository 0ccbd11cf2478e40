// Package scheduler drives evaluation passes on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/fencewatch/internal/evaluator"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/jonboulle/clockwork"
)

// PassRunner runs one evaluation pass over every fence.
type PassRunner interface {
	RunPass(ctx context.Context) (evaluator.PassSummary, error)
}

// Scheduler runs a pass immediately and then once per interval, never more
// than one at a time. Ticks that arrive while a pass is running are dropped.
type Scheduler struct {
	runner   PassRunner
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	running atomic.Bool
	ready   atomic.Bool
	passes  sync.WaitGroup
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(runner PassRunner, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a pass has completed successfully.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no evaluation pass has completed yet")
	}
	return nil
}

// Run ticks until ctx is cancelled, then waits for the in-flight pass to
// finish before returning. Passes are not cancelled with ctx; callers bound
// the wait themselves.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight pass", "reason", ctx.Err())
			s.passes.Wait()
			return nil
		case <-ticker.Chan():
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SkippedTicks.Inc()
		s.logger.Warn("previous pass still running, skipping tick")
		return
	}

	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		defer s.running.Store(false)
		s.runPass(context.WithoutCancel(ctx))
	}()
}

func (s *Scheduler) runPass(ctx context.Context) {
	start := s.clock.Now()
	s.metrics.PassRunning.Set(1)
	defer s.metrics.PassRunning.Set(0)

	summary, err := s.safeRun(ctx)
	elapsed := s.clock.Since(start)
	s.metrics.PassDuration.Observe(elapsed.Seconds())

	var panicErr *panicError
	switch {
	case errors.As(err, &panicErr):
		s.metrics.PassesTotal.WithLabelValues("panic").Inc()
		s.logger.Error("evaluation pass panicked", "panic", panicErr.value, "duration", elapsed)
	case err != nil:
		s.metrics.PassesTotal.WithLabelValues("error").Inc()
		s.logger.Error("evaluation pass failed", "error", err, "duration", elapsed)
	default:
		s.ready.Store(true)
		s.metrics.PassesTotal.WithLabelValues("success").Inc()
		s.logger.Info("evaluation pass complete",
			"fences", len(summary.Results),
			"activated", summary.Outcomes[evaluator.OutcomeActivated],
			"deactivated", summary.Outcomes[evaluator.OutcomeDeactivated],
			"skipped", summary.Outcomes[evaluator.OutcomeSkippedMalformedGeometry],
			"failed", summary.Outcomes[evaluator.OutcomeFailed],
			"vanished", summary.Outcomes[evaluator.OutcomeVanished],
			"duration", elapsed,
		)
	}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func (s *Scheduler) safeRun(ctx context.Context) (summary evaluator.PassSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return s.runner.RunPass(ctx)
}
