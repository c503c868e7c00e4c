package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
)

// ChangeBatchMessage carries one batch of pending changes from a store to
// the remote side. The batch id lets consumers drop redeliveries.
type ChangeBatchMessage struct {
	BatchID   string               `json:"batch_id"`
	Changes   []core.PendingChange `json:"changes"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewChangeBatchMessage wraps changes in a message with a fresh batch id
func NewChangeBatchMessage(changes []core.PendingChange) *ChangeBatchMessage {
	return &ChangeBatchMessage{
		BatchID:   uuid.NewString(),
		Changes:   changes,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeBatchMessageFromJSON decodes a message and rejects empty batches
func ChangeBatchMessageFromJSON(data []byte) (*ChangeBatchMessage, error) {
	var msg ChangeBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.BatchID == "" {
		return nil, errors.New("missing batch id")
	}
	if len(msg.Changes) == 0 {
		return nil, errors.New("empty change batch")
	}
	return &msg, nil
}
