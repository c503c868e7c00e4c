package cachesvc

import (
	"encoding/json"
	"fmt"
)

// MessageType is the kind of message crossing between the application and
// the worker.
type MessageType string

const (
	// MessageSkipWaiting asks the waiting worker to activate now (app to worker).
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	// MessageSyncRequired asks the application to sync (worker to app).
	MessageSyncRequired MessageType = "SYNC_REQUIRED"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t == MessageSkipWaiting || t == MessageSyncRequired
}

// Message is the envelope exchanged over client channels.
type Message struct {
	Type MessageType `json:"type"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("unknown message type %q", raw.Type)
	}
	m.Type = raw.Type
	return nil
}
