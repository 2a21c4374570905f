package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStart_InvalidSchedule(t *testing.T) {
	s := New("not a schedule", time.UTC, func(context.Context, time.Time) error { return nil }, nil)
	if err := s.Start(false); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestStart_NoJob(t *testing.T) {
	s := New("0 0 * * *", time.UTC, nil, nil)
	if err := s.Start(false); err == nil {
		t.Fatalf("expected error without a job")
	}
}

func TestStart_RunsOnStartup(t *testing.T) {
	done := make(chan time.Time, 1)
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s := New("0 0 * * *", rome, func(_ context.Context, now time.Time) error {
		done <- now
		return nil
	}, nil)
	if err := s.Start(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case now := <-done:
		if now.Location() != rome {
			t.Fatalf("job got time in %v, want %v", now.Location(), rome)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("startup run did not happen")
	}
	if !s.IsRunning() {
		t.Fatalf("expected schedule to be registered")
	}
	next := s.Next().In(rome)
	if next.Hour() != 0 || next.Minute() != 0 {
		t.Fatalf("next run should be at midnight, got %v", next)
	}
}

func TestTrigger_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	s := New("0 0 * * *", time.UTC, func(context.Context, time.Time) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return errors.New("job errors are logged, not returned")
	}, nil)

	go s.Trigger()
	<-started
	if s.Trigger() {
		t.Fatalf("overlapping trigger should be skipped")
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !s.Trigger() {
		if time.Now().After(deadline) {
			t.Fatalf("trigger never ran after release")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() != 2 {
		t.Fatalf("want 2 runs, got %d", calls.Load())
	}
}

func TestStop_CancelsJobContext(t *testing.T) {
	ctxSeen := make(chan context.Context, 1)
	s := New("0 0 * * *", time.UTC, func(ctx context.Context, _ time.Time) error {
		ctxSeen <- ctx
		return nil
	}, nil)
	if err := s.Start(true); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := <-ctxSeen
	s.Stop()
	if ctx.Err() == nil {
		t.Fatalf("job context should be cancelled after Stop")
	}
}
