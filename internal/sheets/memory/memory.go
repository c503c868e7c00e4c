package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
	ports "budget/internal/sheets"
)

// Log is an in-process change log used when no spreadsheet is configured.
type Log struct {
	mu   sync.Mutex
	rows []ports.ChangeRow
}

var (
	_ ports.ChangeWriter = (*Log)(nil)
	_ ports.ChangeLister = (*Log)(nil)
)

func New() *Log {
	return &Log{}
}

// AppendChanges stores one row per change.
func (l *Log) AppendChanges(_ context.Context, batchID string, at time.Time, changes []core.PendingChange) (int, error) {
	rows := ports.RowsFromBatch(batchID, at, changes)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, rows...)
	return len(rows), nil
}

// ListChanges returns a copy of the log in append order.
func (l *Log) ListChanges(_ context.Context) ([]ports.ChangeRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.ChangeRow(nil), l.rows...), nil
}

// Exchange appends changes under a fresh batch id.
func (l *Log) Exchange(ctx context.Context, changes []core.PendingChange) error {
	_, err := l.AppendChanges(ctx, uuid.NewString(), time.Now(), changes)
	return err
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
