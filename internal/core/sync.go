package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeRemove ChangeType = "remove"
)

// PendingChange is one queued mutation awaiting the remote exchange.
// Add and update carry the full record; remove carries only the id.
// Seq is assigned by the store when the change is queued and increases
// monotonically, so two identical mutations are still distinct entries.
type PendingChange struct {
	Type ChangeType
	Item *Item
	ID   string
	Seq  uint64
}

// ItemID returns the id the change refers to.
func (c PendingChange) ItemID() string {
	if c.Item != nil {
		return c.Item.ID
	}
	return c.ID
}

type pendingChangeJSON struct {
	Type ChangeType      `json:"type"`
	Item json.RawMessage `json:"item"`
	Seq  uint64          `json:"seq,omitempty"`
}

func (c PendingChange) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if c.Type == ChangeRemove || c.Item == nil {
		raw, err = json.Marshal(c.ItemID())
	} else {
		raw, err = json.Marshal(c.Item)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(pendingChangeJSON{Type: c.Type, Item: raw, Seq: c.Seq})
}

func (c *PendingChange) UnmarshalJSON(data []byte) error {
	var aux pendingChangeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch aux.Type {
	case ChangeAdd, ChangeUpdate, ChangeRemove:
	default:
		return fmt.Errorf("unknown change type %q", aux.Type)
	}
	c.Type = aux.Type
	c.Item = nil
	c.ID = ""
	c.Seq = aux.Seq

	trimmed := bytes.TrimSpace(aux.Item)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &c.ID)
	}
	var item Item
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return fmt.Errorf("decode change item: %w", err)
	}
	c.Item = &item
	c.ID = item.ID
	return nil
}

// SyncState tracks the pending-change queue and the last successful exchange.
type SyncState struct {
	LastSynced     *time.Time      `json:"lastSynced"`
	PendingChanges []PendingChange `json:"pendingChanges"`
	IsSyncing      bool            `json:"isSyncing"`
}

// State is the full persisted application state.
type State struct {
	Items         []Item         `json:"items"`
	BudgetCap     float64        `json:"budgetCap"`
	Notifications []Notification `json:"notifications"`
	Preferences   Preferences    `json:"preferences"`
	Sync          SyncState      `json:"sync"`
}

func DefaultState() State {
	return State{
		Items:         []Item{},
		BudgetCap:     DefaultBudgetCap,
		Notifications: []Notification{},
		Preferences:   DefaultPreferences(),
		Sync: SyncState{
			PendingChanges: []PendingChange{},
		},
	}
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s State) Clone() State {
	out := s
	out.Items = append(make([]Item, 0, len(s.Items)), s.Items...)
	out.Notifications = append(make([]Notification, 0, len(s.Notifications)), s.Notifications...)
	out.Sync.PendingChanges = cloneChanges(s.Sync.PendingChanges)
	if s.Sync.LastSynced != nil {
		t := *s.Sync.LastSynced
		out.Sync.LastSynced = &t
	}
	return out
}

func cloneChanges(in []PendingChange) []PendingChange {
	out := make([]PendingChange, len(in))
	for i, c := range in {
		if c.Item != nil {
			item := *c.Item
			c.Item = &item
		}
		out[i] = c
	}
	return out
}

// Normalize replaces nil slices so the JSON form always carries arrays.
func (s *State) Normalize() {
	if s.Items == nil {
		s.Items = []Item{}
	}
	if s.Notifications == nil {
		s.Notifications = []Notification{}
	}
	if s.Sync.PendingChanges == nil {
		s.Sync.PendingChanges = []PendingChange{}
	}
}
