package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	applog "budget/internal/log"
	"budget/internal/store"
)

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// Interval is how often a non-empty queue is retried (default: 30s).
	// Zero disables the periodic retry.
	Interval time.Duration

	// SyncOnStart attempts a sync as soon as the scheduler starts.
	SyncOnStart bool
}

// DefaultSyncSchedulerConfig returns sensible defaults
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Interval:    30 * time.Second,
		SyncOnStart: true,
	}
}

// Syncer is the part of the store the scheduler drives.
type Syncer interface {
	SyncData(ctx context.Context) store.SyncResult
	PendingCount() int
}

// SyncScheduler retries pending changes while online, so a failed sync does
// not have to wait for the next offline to online transition.
type SyncScheduler struct {
	syncer Syncer
	online store.OnlineChecker
	config SyncSchedulerConfig
	logger *applog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(syncer Syncer, online store.OnlineChecker, config SyncSchedulerConfig, logger *applog.Logger) *SyncScheduler {
	if online == nil {
		online = store.AlwaysOnline
	}
	return &SyncScheduler{
		syncer: syncer,
		online: online,
		config: config,
		logger: applog.OrDefault(logger, applog.ComponentSync),
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sync scheduler is already running")
	}
	if s.config.Interval <= 0 {
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Sync scheduler disabled")
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Sync scheduler started", "interval", s.config.Interval)
	return nil
}

// Stop gracefully stops the scheduler and waits for the loop to exit.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.logger.InfoContext(ctx, "Sync scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Sync scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SyncScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.SyncOnStart {
		s.Tick(ctx)
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling decision and reports whether a sync was attempted.
func (s *SyncScheduler) Tick(ctx context.Context) bool {
	pending := s.syncer.PendingCount()
	if pending == 0 {
		return false
	}
	if !s.online.Online() {
		s.logger.DebugContext(ctx, "Offline, sync postponed", applog.FieldPending, pending)
		return false
	}

	res := s.syncer.SyncData(ctx)
	switch res.Outcome {
	case store.SyncFailed:
		s.logger.WarnContext(ctx, "Scheduled sync failed",
			applog.FieldPending, pending, applog.FieldError, res.Err)
	case store.SyncSucceeded:
		s.logger.InfoContext(ctx, "Scheduled sync completed", "synced", res.Synced)
	default:
		s.logger.DebugContext(ctx, "Scheduled sync finished", "outcome", res.Outcome)
	}
	return true
}
