package store

import (
	"context"
	"errors"
	"time"

	"budget/internal/core"
)

// ErrNotFound is returned by a Persister when nothing is stored under a key.
var ErrNotFound = errors.New("persisted state not found")

// Ports for the store's collaborators.
type (
	// Persister is a key-value blob store holding the serialized state.
	Persister interface {
		Load(ctx context.Context, key string) ([]byte, error)
		Save(ctx context.Context, key string, data []byte) error
	}

	// Exchanger pushes a batch of pending changes to the remote side.
	Exchanger interface {
		Exchange(ctx context.Context, changes []core.PendingChange) error
	}

	// OnlineChecker reports the device connectivity signal.
	OnlineChecker interface {
		Online() bool
	}
)

// ExchangeFunc adapts a function to the Exchanger interface.
type ExchangeFunc func(ctx context.Context, changes []core.PendingChange) error

// Exchange calls f.
func (f ExchangeFunc) Exchange(ctx context.Context, changes []core.PendingChange) error {
	return f(ctx, changes)
}

// OnlineFunc adapts a function to the OnlineChecker interface.
type OnlineFunc func() bool

// Online calls f.
func (f OnlineFunc) Online() bool { return f() }

// AlwaysOnline reports online unconditionally.
var AlwaysOnline OnlineChecker = OnlineFunc(func() bool { return true })

// SimulatedExchange waits for a fixed latency and then reports success.
// It stands in for a real backend.
func SimulatedExchange(latency time.Duration) Exchanger {
	return ExchangeFunc(func(ctx context.Context, _ []core.PendingChange) error {
		if latency <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}
