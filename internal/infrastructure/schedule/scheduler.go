// Package schedule runs named jobs on cron expressions. A job whose previous
// run is still going is skipped rather than stacked.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

type JobFunc func(ctx context.Context) error

type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		ctx:  context.Background(),
	}
}

// AddJob registers fn under the cron expression expr. Standard five-field
// expressions and descriptors such as "@daily" or "@every 6h" are accepted.
func (s *Scheduler) AddJob(name, expr string, fn JobFunc) error {
	if _, err := s.cron.AddFunc(expr, s.wrap(name, expr, fn)); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	slog.Info("job_scheduled", "job", name, "cron", expr)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if ctx != nil {
		s.ctx = ctx
	}
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) wrap(name, expr string, fn JobFunc) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			slog.Info("job_skipped", "job", name, "cron", expr, "reason", "still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		slog.Info("job_started", "job", name)
		if err := fn(s.ctx); err != nil {
			slog.Error("job_failed", "job", name, "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
			return
		}
		slog.Info("job_finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}
}
