// Package store holds the application state of the budget tracker: expense
// records, the spending cap, notifications, preferences and the queue of
// changes that still have to reach the remote side.
//
// Every mutation is persisted through a Persister before it returns.
// Persistence failures are logged and never surface to callers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/metrics"
)

// StorageKey is the persistence key used when Options.Key is empty.
const StorageKey = "budget-storage"

const stateVersion = 0

// Options configures a Store.
type Options struct {
	Persister Persister
	Exchanger Exchanger
	Online    OnlineChecker
	Key       string
	Clock     func() time.Time
	Rates     core.RateTable
	Logger    *applog.Logger
}

// NotificationInput is the caller-supplied part of a notification.
type NotificationInput struct {
	Title   string
	Message string
	Type    core.NotificationType
}

// Store is the explicit, constructed state container.
type Store struct {
	mu    sync.Mutex
	state core.State

	// inFlight guards SyncData independently of the persisted flag so a
	// reload during an exchange cannot start a second one.
	inFlight bool
	lastID   int64
	// lastSeq is the highest sequence number handed to a queued change.
	lastSeq uint64

	persister Persister
	exchanger Exchanger
	online    OnlineChecker
	key       string
	now       func() time.Time
	rates     core.RateTable
	logger    *applog.Logger

	subsMu  sync.Mutex
	subs    map[int]func(core.State)
	nextSub int
}

type envelope struct {
	State   core.State `json:"state"`
	Version int        `json:"version"`
}

// Open builds a Store and reads the persisted record once. An absent or
// unreadable record yields the default state.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Persister == nil {
		return nil, errors.New("store: persister is required")
	}
	s := &Store{
		persister: opts.Persister,
		exchanger: opts.Exchanger,
		online:    opts.Online,
		key:       opts.Key,
		now:       opts.Clock,
		rates:     opts.Rates,
		logger:    applog.OrDefault(opts.Logger, applog.ComponentStore),
		subs:      make(map[int]func(core.State)),
	}
	if s.exchanger == nil {
		s.exchanger = SimulatedExchange(time.Second)
	}
	if s.online == nil {
		s.online = AlwaysOnline
	}
	if s.key == "" {
		s.key = StorageKey
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rates == nil {
		s.rates = core.DefaultRates
	}

	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.state = state
	s.resequenceLocked(&s.state)
	metrics.PendingChanges.Set(float64(len(state.Sync.PendingChanges)))
	return s, nil
}

func (s *Store) load(ctx context.Context) (core.State, error) {
	data, err := s.persister.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		s.logger.InfoContext(ctx, "No persisted state, starting from defaults", "key", s.key)
		return core.DefaultState(), nil
	}
	if err != nil {
		return core.State{}, fmt.Errorf("load persisted state: %w", err)
	}

	env := envelope{State: core.DefaultState()}
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.WarnContext(ctx, "Persisted state is unreadable, starting from defaults",
			"key", s.key, "error", err)
		return core.DefaultState(), nil
	}
	env.State.Normalize()
	// An interrupted exchange is discarded; its changes are still queued.
	env.State.Sync.IsSyncing = false
	return env.State, nil
}

// Reload replaces the in-memory state with the persisted record.
func (s *Store) Reload(ctx context.Context) error {
	state, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	state.Sync.IsSyncing = s.inFlight
	s.resequenceLocked(&state)
	s.state = state
	snap := s.state.Clone()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "State reloaded", applog.FieldPending, len(snap.Sync.PendingChanges))
	s.notify(snap)
	return nil
}

// State returns a deep copy of the current state.
func (s *Store) State() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// PendingCount returns the length of the pending-change queue.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Sync.PendingChanges)
}

// Subscribe registers fn to receive a snapshot after every committed
// mutation. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(core.State)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify(snap core.State) {
	s.subsMu.Lock()
	fns := make([]func(core.State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// mutate applies fn under the lock, persists and notifies subscribers.
func (s *Store) mutate(ctx context.Context, fn func(st *core.State)) core.State {
	s.mu.Lock()
	fn(&s.state)
	s.persistLocked(ctx)
	snap := s.state.Clone()
	s.mu.Unlock()

	metrics.PendingChanges.Set(float64(len(snap.Sync.PendingChanges)))
	s.notify(snap)
	return snap
}

func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.Marshal(envelope{State: s.state, Version: stateVersion})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode state", "error", err)
		return
	}
	if err := s.persister.Save(ctx, s.key, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist state",
			"key", s.key, "error", err, applog.FieldOperation, applog.OpPersist)
	}
}

// enqueueLocked appends c to the queue under the next sequence number.
func (s *Store) enqueueLocked(st *core.State, c core.PendingChange) {
	s.lastSeq++
	c.Seq = s.lastSeq
	st.Sync.PendingChanges = append(st.Sync.PendingChanges, c)
}

// resequenceLocked keeps lastSeq ahead of every loaded entry and numbers
// entries persisted without a sequence. It never lowers lastSeq, so
// entries queued after a reload never reuse a number.
func (s *Store) resequenceLocked(st *core.State) {
	for _, c := range st.Sync.PendingChanges {
		if c.Seq > s.lastSeq {
			s.lastSeq = c.Seq
		}
	}
	for i := range st.Sync.PendingChanges {
		if st.Sync.PendingChanges[i].Seq == 0 {
			s.lastSeq++
			st.Sync.PendingChanges[i].Seq = s.lastSeq
		}
	}
}

func (s *Store) nextIDLocked() string {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

// AddItem appends a record and queues an add change. Missing id, date,
// currency and category are filled in; the stored record is returned.
func (s *Store) AddItem(ctx context.Context, item core.Item) core.Item {
	var added core.Item
	s.mutate(ctx, func(st *core.State) {
		if item.ID == "" {
			item.ID = s.nextIDLocked()
		}
		if item.Date.IsZero() {
			item.Date = s.now()
		}
		if item.Currency == "" {
			item.Currency = st.Preferences.Currency
		}
		if item.Category == "" {
			item.Category = core.DefaultCategory
		}
		st.Items = append(st.Items, item)
		queued := item
		s.enqueueLocked(st, core.PendingChange{Type: core.ChangeAdd, Item: &queued, ID: item.ID})
		added = item
	})
	s.logger.DebugContext(ctx, "Item added", applog.FieldItemID, added.ID, applog.FieldAmount, added.Amount)
	return added
}

// UpdateItem replaces the record with the same id and queues an update
// change. Unknown ids leave the records untouched.
func (s *Store) UpdateItem(ctx context.Context, item core.Item) {
	s.mutate(ctx, func(st *core.State) {
		for i := range st.Items {
			if st.Items[i].ID == item.ID {
				st.Items[i] = item
			}
		}
		queued := item
		s.enqueueLocked(st, core.PendingChange{Type: core.ChangeUpdate, Item: &queued, ID: item.ID})
	})
}

// RemoveItem drops the record with id and queues a remove change, even
// when no such record exists.
func (s *Store) RemoveItem(ctx context.Context, id string) {
	s.mutate(ctx, func(st *core.State) {
		kept := st.Items[:0:0]
		for _, it := range st.Items {
			if it.ID != id {
				kept = append(kept, it)
			}
		}
		st.Items = kept
		s.enqueueLocked(st, core.PendingChange{Type: core.ChangeRemove, ID: id})
	})
}

// SetBudgetCap replaces the spending cap. It is not queued for sync.
func (s *Store) SetBudgetCap(ctx context.Context, amount float64) {
	if amount < 0 {
		amount = 0
	}
	s.mutate(ctx, func(st *core.State) {
		st.BudgetCap = amount
	})
}

// ClearItems empties the records. Already queued changes are kept and no
// change is queued for the clear itself.
func (s *Store) ClearItems(ctx context.Context) {
	s.mutate(ctx, func(st *core.State) {
		st.Items = []core.Item{}
	})
}

// AddNotification appends an unread notification stamped with the current time.
func (s *Store) AddNotification(ctx context.Context, in NotificationInput) core.Notification {
	var n core.Notification
	s.mutate(ctx, func(st *core.State) {
		n = s.newNotificationLocked(in)
		st.Notifications = append(st.Notifications, n)
	})
	return n
}

func (s *Store) newNotificationLocked(in NotificationInput) core.Notification {
	typ := in.Type
	if !typ.Valid() {
		typ = core.NotificationInfo
	}
	return core.Notification{
		ID:      uuid.NewString(),
		Title:   in.Title,
		Message: in.Message,
		Type:    typ,
		Read:    false,
		Date:    s.now(),
	}
}

// MarkNotificationAsRead flags the notification with id as read.
func (s *Store) MarkNotificationAsRead(ctx context.Context, id string) {
	s.mutate(ctx, func(st *core.State) {
		for i := range st.Notifications {
			if st.Notifications[i].ID == id {
				st.Notifications[i].Read = true
			}
		}
	})
}

// ClearNotifications removes every notification.
func (s *Store) ClearNotifications(ctx context.Context) {
	s.mutate(ctx, func(st *core.State) {
		st.Notifications = []core.Notification{}
	})
}

// UpdatePreferences shallow-merges patch into the preferences.
func (s *Store) UpdatePreferences(ctx context.Context, patch core.PreferencesPatch) core.Preferences {
	snap := s.mutate(ctx, func(st *core.State) {
		st.Preferences = st.Preferences.Merge(patch)
	})
	return snap.Preferences
}

// ItemsInCurrency returns copies of the records with amounts converted to
// code. Records without a currency are taken to be in the preferred one.
func (s *Store) ItemsInCurrency(code string) []core.Item {
	s.mu.Lock()
	items := append([]core.Item(nil), s.state.Items...)
	pref := s.state.Preferences.Currency
	s.mu.Unlock()

	out := make([]core.Item, len(items))
	for i, it := range items {
		from := it.Currency
		if from == "" {
			from = pref
		}
		it.Amount = core.Convert(s.rates, it.Amount, from, code)
		if _, ok := s.rates.Rate(code); ok {
			it.Currency = code
		}
		out[i] = it
	}
	return out
}

// TotalInCurrency sums ItemsInCurrency(code).
func (s *Store) TotalInCurrency(code string) float64 {
	var total float64
	for _, it := range s.ItemsInCurrency(code) {
		total += it.Amount
	}
	return total
}
