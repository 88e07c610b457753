package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("reindex", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
	if err := s.AddJob("reindex", "@every 6h", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("descriptor expression must be accepted: %v", err)
	}
	if err := s.AddJob("reindex", "0 3 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("five field expression must be accepted: %v", err)
	}
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	run := s.wrap("reindex", "@hourly", func(context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		run()
	}()
	<-started
	run()
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("overlapping run must be skipped, got %d calls", calls.Load())
	}
}

func TestWrapPassesContextAndRecoversFromErrors(t *testing.T) {
	s := NewScheduler()
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	s.ctx = ctx

	var seen any
	run := s.wrap("reindex", "@hourly", func(ctx context.Context) error {
		seen = ctx.Value(key{})
		return errors.New("boom")
	})
	run()
	run()
	if seen != "v" {
		t.Fatalf("job must receive the scheduler context")
	}
}
