package sheets

import (
	"context"
	"time"

	"budget/internal/core"
)

// ChangeRow is one synchronized change as it appears in the remote change log.
type ChangeRow struct {
	BatchID  string
	At       time.Time
	Type     core.ChangeType
	ItemID   string
	Title    string
	Category string
	Amount   float64
	Currency string
}

// Header is the column layout of the change log.
var Header = []string{"Batch", "Timestamp", "Type", "Item ID", "Title", "Category", "Amount", "Currency"}

// ChangeWriter appends a batch of changes to the change log and returns
// the number of rows written.
type ChangeWriter interface {
	AppendChanges(ctx context.Context, batchID string, at time.Time, changes []core.PendingChange) (int, error)
}

// ChangeLister reads the change log back.
type ChangeLister interface {
	ListChanges(ctx context.Context) ([]ChangeRow, error)
}

// RowsFromBatch flattens a batch into change log rows. Remove changes only
// carry the item id.
func RowsFromBatch(batchID string, at time.Time, changes []core.PendingChange) []ChangeRow {
	rows := make([]ChangeRow, 0, len(changes))
	for _, c := range changes {
		row := ChangeRow{
			BatchID: batchID,
			At:      at.UTC(),
			Type:    c.Type,
			ItemID:  c.ItemID(),
		}
		if c.Item != nil && c.Type != core.ChangeRemove {
			row.Title = c.Item.Title
			row.Category = c.Item.Category
			row.Amount = c.Item.Amount
			row.Currency = c.Item.Currency
		}
		rows = append(rows, row)
	}
	return rows
}
