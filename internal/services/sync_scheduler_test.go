package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	applog "budget/internal/log"
	"budget/internal/store"
)

type fakeSyncer struct {
	pending atomic.Int32
	calls   atomic.Int32
	result  store.SyncResult
}

func (f *fakeSyncer) PendingCount() int { return int(f.pending.Load()) }

func (f *fakeSyncer) SyncData(context.Context) store.SyncResult {
	f.calls.Add(1)
	if f.result.Outcome == store.SyncSucceeded {
		f.pending.Store(0)
	}
	return f.result
}

func TestDefaultSyncSchedulerConfig(t *testing.T) {
	config := DefaultSyncSchedulerConfig()
	if config.Interval != 30*time.Second {
		t.Errorf("expected Interval 30s, got %v", config.Interval)
	}
	if !config.SyncOnStart {
		t.Errorf("expected SyncOnStart true")
	}
}

func TestSyncScheduler_Tick(t *testing.T) {
	tests := []struct {
		name      string
		pending   int32
		online    bool
		outcome   store.SyncOutcome
		wantCall  bool
		wantAfter int32
	}{
		{"empty queue", 0, true, store.SyncSucceeded, false, 0},
		{"offline", 3, false, store.SyncSucceeded, false, 3},
		{"online success", 3, true, store.SyncSucceeded, true, 0},
		{"online failure", 2, true, store.SyncFailed, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSyncer{result: store.SyncResult{Outcome: tt.outcome}}
			if tt.outcome == store.SyncFailed {
				f.result.Err = errors.New("boom")
			}
			f.pending.Store(tt.pending)
			online := tt.online
			s := NewSyncScheduler(f, store.OnlineFunc(func() bool { return online }),
				DefaultSyncSchedulerConfig(), applog.Discard())

			if got := s.Tick(context.Background()); got != tt.wantCall {
				t.Errorf("Tick = %v, want %v", got, tt.wantCall)
			}
			if f.pending.Load() != tt.wantAfter {
				t.Errorf("pending after = %d, want %d", f.pending.Load(), tt.wantAfter)
			}
		})
	}
}

func TestSyncScheduler_IsRunning(t *testing.T) {
	s := NewSyncScheduler(&fakeSyncer{}, nil, DefaultSyncSchedulerConfig(), nil)
	if s.IsRunning() {
		t.Error("scheduler should not be running initially")
	}
}

func TestSyncScheduler_StartTwice(t *testing.T) {
	config := DefaultSyncSchedulerConfig()
	config.SyncOnStart = false
	s := NewSyncScheduler(&fakeSyncer{}, nil, config, applog.Discard())

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop(ctx)

	if err := s.Start(ctx); err == nil {
		t.Error("expected error when starting already running scheduler")
	}
}

func TestSyncScheduler_StopNotRunning(t *testing.T) {
	s := NewSyncScheduler(&fakeSyncer{}, nil, DefaultSyncSchedulerConfig(), nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncScheduler_DisabledInterval(t *testing.T) {
	s := NewSyncScheduler(&fakeSyncer{}, nil, SyncSchedulerConfig{}, applog.Discard())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.IsRunning() {
		t.Error("zero interval should not start the loop")
	}
}

func TestSyncScheduler_RetriesUntilDrained(t *testing.T) {
	f := &fakeSyncer{result: store.SyncResult{Outcome: store.SyncSucceeded, Synced: 1}}
	f.pending.Store(1)
	s := NewSyncScheduler(f, nil, SyncSchedulerConfig{Interval: 5 * time.Millisecond}, applog.Discard())

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.pending.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.pending.Load() != 0 || f.calls.Load() != 1 {
		t.Fatalf("pending=%d calls=%d", f.pending.Load(), f.calls.Load())
	}
	if s.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}
