package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_Add_RejectsNonPositiveInterval(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	if err := s.Add("bad", 0, 0, func(context.Context) error { return nil }); err == nil {
		t.Error("Add() error = nil, want error for zero interval")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	if err := s.Add("tick", 50*time.Millisecond, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want >= 2", got)
	}
}

func TestScheduler_LogsJobErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(zap.New(core))
	done := make(chan struct{}, 1)
	if err := s.Add("failing", time.Hour, time.Second, func(context.Context) error {
		defer func() { done <- struct{}{} }()
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on Start")
	}
	s.Stop()

	deadline := time.Now().Add(time.Second)
	for logs.FilterMessage("scheduled job failed").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	entries := logs.FilterMessage("scheduled job failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["job"] != "failing" {
		t.Errorf("logs = %+v, want one failure for job=failing", entries)
	}
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	if err := s.Add("slow", time.Hour, time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s.Start()
	<-started
	go s.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}
