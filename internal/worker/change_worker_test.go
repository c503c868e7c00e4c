package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"budget/internal/amqp"
	"budget/internal/cache"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/sheets/memory"
)

type failingWriter struct{ calls int }

func (f *failingWriter) AppendChanges(context.Context, string, time.Time, []core.PendingChange) (int, error) {
	f.calls++
	return 0, errors.New("quota exceeded")
}

func batch(id string) *amqp.ChangeBatchMessage {
	return &amqp.ChangeBatchMessage{
		BatchID:   id,
		Timestamp: time.Now(),
		Changes: []core.PendingChange{
			{Type: core.ChangeAdd, Item: &core.Item{ID: "1", Title: "Lunch", Amount: 10}},
			{Type: core.ChangeRemove, ID: "2"},
		},
	}
}

func TestHandleChangeBatch(t *testing.T) {
	log := memory.New()
	w := NewChangeWorker(log, 0, applog.Discard())
	ctx := context.Background()

	if err := w.HandleChangeBatch(ctx, batch("b1")); err != nil {
		t.Fatalf("HandleChangeBatch: %v", err)
	}
	if log.Len() != 2 {
		t.Fatalf("rows = %d, want 2", log.Len())
	}
	if got := w.Stats(); got.Batches != 1 || got.Duplicates != 0 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestHandleChangeBatch_Redelivery(t *testing.T) {
	log := memory.New()
	w := NewChangeWorker(log, 8, applog.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := w.HandleChangeBatch(ctx, batch("b1")); err != nil {
			t.Fatalf("HandleChangeBatch: %v", err)
		}
	}
	if log.Len() != 2 {
		t.Fatalf("redelivered batch written again: rows = %d", log.Len())
	}
	if got := w.Stats(); got.Batches != 1 || got.Duplicates != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestHandleChangeBatch_FailureIsRetried(t *testing.T) {
	writer := &failingWriter{}
	w := NewChangeWorker(writer, 8, applog.Discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := w.HandleChangeBatch(ctx, batch("b1")); err == nil {
			t.Fatal("expected error")
		}
	}
	// a failed batch is not remembered, so the redelivery reaches the writer
	if writer.calls != 2 {
		t.Fatalf("writer calls = %d, want 2", writer.calls)
	}
}

func TestRegisterWithManager(t *testing.T) {
	m := cache.NewManager(applog.Discard())
	w := NewChangeWorker(memory.New(), 8, applog.Discard())
	w.Register(m)
	if n := m.CleanNow(); n != 0 {
		t.Fatalf("nothing should have expired, cleaned %d", n)
	}
}
