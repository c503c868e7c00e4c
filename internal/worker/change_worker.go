package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"budget/internal/amqp"
	"budget/internal/cache"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/sheets"
)

const (
	// DefaultDedupWindow is how many recent batch ids are remembered.
	DefaultDedupWindow = 1024
	dedupTTL           = 24 * time.Hour
)

// ChangeWorker writes synchronized change batches to the remote change log.
// Broker redeliveries of an already written batch are acknowledged without
// writing again.
type ChangeWorker struct {
	writer sheets.ChangeWriter
	seen   *cache.LRUCache[time.Time]
	logger *applog.Logger

	written    atomic.Int64
	duplicates atomic.Int64
}

// Stats is a snapshot of the worker counters.
type Stats struct {
	Batches    int64
	Duplicates int64
}

func NewChangeWorker(writer sheets.ChangeWriter, dedupWindow int, logger *applog.Logger) *ChangeWorker {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &ChangeWorker{
		writer: writer,
		seen:   cache.NewLRUCache[time.Time](dedupWindow, dedupTTL),
		logger: applog.OrDefault(logger, applog.ComponentWorker),
	}
}

// Register adds the dedup window to the manager's periodic cleanup.
func (w *ChangeWorker) Register(m *cache.Manager) {
	m.Register(w.seen)
}

// HandleChangeBatch processes a single change batch from AMQP
func (w *ChangeWorker) HandleChangeBatch(ctx context.Context, msg *amqp.ChangeBatchMessage) error {
	if _, dup := w.seen.Get(msg.BatchID); dup {
		w.duplicates.Add(1)
		metrics.WorkerBatches.WithLabelValues("duplicate").Inc()
		w.logger.InfoContext(ctx, "Skipping already written batch", "batch_id", msg.BatchID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing change batch",
		"batch_id", msg.BatchID,
		applog.FieldPending, len(msg.Changes))

	n, err := w.writer.AppendChanges(ctx, msg.BatchID, msg.Timestamp, msg.Changes)
	if err != nil {
		metrics.WorkerBatches.WithLabelValues("failed").Inc()
		return fmt.Errorf("append batch %s: %w", msg.BatchID, err)
	}

	w.seen.Set(msg.BatchID, time.Now())
	w.written.Add(1)
	metrics.WorkerBatches.WithLabelValues("written").Inc()
	w.logger.InfoContext(ctx, "Successfully wrote change batch",
		"batch_id", msg.BatchID,
		"rows", n)
	return nil
}

// Stats returns the worker counters.
func (w *ChangeWorker) Stats() Stats {
	return Stats{
		Batches:    w.written.Load(),
		Duplicates: w.duplicates.Load(),
	}
}
