package store

import (
	"context"
	"fmt"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/metrics"
)

// SyncOutcome classifies the result of a SyncData call.
type SyncOutcome string

const (
	// SyncSkipped: a sync was already running or nothing was queued.
	SyncSkipped SyncOutcome = "skipped"
	// SyncSucceeded: the batch was exchanged and acknowledged.
	SyncSucceeded SyncOutcome = "succeeded"
	// SyncFailed: the exchange failed; the queue is untouched.
	SyncFailed SyncOutcome = "failed"
	// SyncDeferred: the exchange succeeded but the result could not be
	// applied, either because the device went offline or because the queue
	// no longer starts with the exchanged batch; the queue is kept.
	SyncDeferred SyncOutcome = "deferred"
)

const (
	syncSuccessTitle = "Sync Complete"
	syncFailureTitle = "Sync Failed"
	syncFailureMsg   = "Could not synchronize your data. Will try again when you're online."
)

// SyncResult reports what a SyncData call did.
type SyncResult struct {
	Outcome SyncOutcome
	Synced  int
	Err     error
}

// SyncData pushes the pending queue through the Exchanger.
//
// Calls made while another sync is running, or with an empty queue, return
// SyncSkipped without side effects. A successful sync removes the exchanged
// batch from the head of the queue and stamps LastSynced. Changes queued
// while the exchange is in flight were not sent, so they stay queued for
// the next sync; MarkSynced clears everything.
func (s *Store) SyncData(ctx context.Context) (res SyncResult) {
	s.mu.Lock()
	if s.inFlight || len(s.state.Sync.PendingChanges) == 0 {
		s.mu.Unlock()
		metrics.SyncOutcomes.WithLabelValues(string(SyncSkipped)).Inc()
		return SyncResult{Outcome: SyncSkipped}
	}
	s.inFlight = true
	s.state.Sync.IsSyncing = true
	batch := cloneBatch(s.state.Sync.PendingChanges)
	s.persistLocked(ctx)
	snap := s.state.Clone()
	s.mu.Unlock()
	s.notify(snap)

	logger := s.logger.WithComponent(applog.ComponentSync)
	logger.InfoContext(ctx, "Sync started", applog.FieldPending, len(batch))

	// The outcome is recorded even if the caller's context ends mid-exchange.
	fctx := context.WithoutCancel(ctx)
	defer func() {
		s.mutate(fctx, func(st *core.State) {
			s.inFlight = false
			st.Sync.IsSyncing = false
		})
		metrics.SyncOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}()

	if err := s.exchange(ctx, batch); err != nil {
		logger.WarnContext(ctx, "Sync failed", "error", err, applog.FieldPending, len(batch))
		s.mutate(fctx, func(st *core.State) {
			st.Notifications = append(st.Notifications, s.newNotificationLocked(NotificationInput{
				Title:   syncFailureTitle,
				Message: syncFailureMsg,
				Type:    core.NotificationError,
			}))
		})
		return SyncResult{Outcome: SyncFailed, Err: err}
	}

	if !s.online.Online() {
		logger.InfoContext(ctx, "Sync result not confirmed while offline, keeping queue",
			applog.FieldPending, len(batch))
		return SyncResult{Outcome: SyncDeferred}
	}

	acked := false
	s.mutate(fctx, func(st *core.State) {
		if !hasPrefix(st.Sync.PendingChanges, batch) {
			return
		}
		acked = true
		rest := st.Sync.PendingChanges[len(batch):]
		st.Sync.PendingChanges = append([]core.PendingChange{}, rest...)
		now := s.now()
		st.Sync.LastSynced = &now
		st.Notifications = append(st.Notifications, s.newNotificationLocked(NotificationInput{
			Title:   syncSuccessTitle,
			Message: fmt.Sprintf("Successfully synchronized %d changes.", len(batch)),
			Type:    core.NotificationSuccess,
		}))
	})
	if !acked {
		logger.WarnContext(ctx, "Queue changed during sync, keeping it for the next attempt",
			applog.FieldPending, s.PendingCount())
		return SyncResult{Outcome: SyncDeferred}
	}
	logger.InfoContext(ctx, "Sync completed", "synced", len(batch))
	return SyncResult{Outcome: SyncSucceeded, Synced: len(batch)}
}

// exchange runs the Exchanger outside the store lock, turning a panic
// into an error.
func (s *Store) exchange(ctx context.Context, batch []core.PendingChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exchange panicked: %v", r)
		}
	}()
	return s.exchanger.Exchange(ctx, batch)
}

// MarkSynced records a successful exchange performed outside SyncData:
// the queue is cleared and the sync flag reset.
func (s *Store) MarkSynced(ctx context.Context) {
	s.mutate(ctx, func(st *core.State) {
		now := s.now()
		st.Sync = core.SyncState{
			LastSynced:     &now,
			PendingChanges: []core.PendingChange{},
			IsSyncing:      false,
		}
	})
}

// hasPrefix reports whether queue starts with batch, entry by entry.
func hasPrefix(queue, batch []core.PendingChange) bool {
	if len(queue) < len(batch) {
		return false
	}
	for i, c := range batch {
		if !sameChange(queue[i], c) {
			return false
		}
	}
	return true
}

// sameChange compares two entries. The sequence number tells apart
// identical mutations queued at different times; dates are compared with
// Equal since a reloaded queue carries decoded times.
func sameChange(a, b core.PendingChange) bool {
	if a.Seq != b.Seq || a.Type != b.Type || a.ID != b.ID {
		return false
	}
	if a.Item == nil || b.Item == nil {
		return a.Item == nil && b.Item == nil
	}
	x, y := *a.Item, *b.Item
	if !x.Date.Equal(y.Date) {
		return false
	}
	x.Date, y.Date = time.Time{}, time.Time{}
	return x == y
}

func cloneBatch(in []core.PendingChange) []core.PendingChange {
	st := core.State{Sync: core.SyncState{PendingChanges: in}}
	return st.Clone().Sync.PendingChanges
}
