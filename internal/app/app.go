// Package app is the application surface that ties the store to the offline
// cache service and the connectivity signal.
package app

import (
	"context"
	"errors"
	"sync"

	"budget/internal/cachesvc"
	"budget/internal/connectivity"
	applog "budget/internal/log"
	"budget/internal/store"
)

// App reacts to connectivity transitions, worker messages and controller
// changes on behalf of one application instance.
type App struct {
	store   *store.Store
	reg     *cachesvc.Registration
	monitor *connectivity.Monitor
	logger  *applog.Logger

	client      *cachesvc.Client
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stopMu orders wg.Add in callbacks against Stop's wg.Wait.
	stopMu  sync.Mutex
	stopped bool

	reloadMu     sync.Mutex
	reloading    bool
	reloadedFor  string
	reloadsCount int
}

// New builds an App. Call Start before use.
func New(st *store.Store, reg *cachesvc.Registration, monitor *connectivity.Monitor, logger *applog.Logger) *App {
	return &App{
		store:   st,
		reg:     reg,
		monitor: monitor,
		logger:  applog.OrDefault(logger, applog.ComponentApp),
	}
}

// Start connects to the registration and begins processing events.
func (a *App) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.client = a.reg.Clients().Connect()
	a.unsubscribe = a.monitor.Subscribe(a.onConnectivity)

	a.wg.Add(1)
	go a.loop()
	a.logger.InfoContext(ctx, "Application started", "client_id", a.client.ID, "online", a.monitor.Online())
}

// Stop disconnects and waits for in-flight work.
func (a *App) Stop() {
	if a.cancel == nil {
		return
	}
	a.unsubscribe()
	a.stopMu.Lock()
	a.stopped = true
	a.stopMu.Unlock()
	a.cancel()
	a.wg.Wait()
	a.reg.Clients().Disconnect(a.client)
	a.logger.Info("Application stopped")
}

func (a *App) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.client.Messages():
			a.handleMessage(a.ctx, msg)
		case version := <-a.client.ControllerChanges():
			a.handleControllerChange(a.ctx, version)
		}
	}
}

func (a *App) onConnectivity(online bool) {
	if !online {
		a.logger.Info("Working offline, changes will be queued", applog.FieldPending, a.store.PendingCount())
		return
	}
	a.stopMu.Lock()
	defer a.stopMu.Unlock()
	if a.stopped {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx := a.ctx
		if ctx.Err() != nil {
			return
		}
		// A sync that has started runs to completion; Stop waits for it
		// instead of turning it into a failure.
		res := a.store.SyncData(context.WithoutCancel(ctx))
		a.logger.DebugContext(ctx, "Sync after reconnect", "outcome", res.Outcome, "synced", res.Synced)
		if ctx.Err() != nil {
			return
		}

		if err := a.reg.RegisterSync(ctx, cachesvc.SyncTag); err != nil {
			a.logger.WarnContext(ctx, "Background sync registration failed", applog.FieldError, err.Error())
		}
	}()
}

func (a *App) handleMessage(ctx context.Context, msg cachesvc.Message) {
	switch msg.Type {
	case cachesvc.MessageSyncRequired:
		res := a.store.SyncData(context.WithoutCancel(ctx))
		a.logger.DebugContext(ctx, "Sync requested by worker", "outcome", res.Outcome, "synced", res.Synced)
	default:
		a.logger.DebugContext(ctx, "Ignoring message", applog.FieldMessageType, msg.Type)
	}
}

// handleControllerChange reloads once per newly activated version.
func (a *App) handleControllerChange(ctx context.Context, version string) {
	a.reloadMu.Lock()
	if a.reloading || a.reloadedFor == version {
		a.reloadMu.Unlock()
		return
	}
	a.reloading = true
	a.reloadMu.Unlock()

	err := a.store.Reload(ctx)

	a.reloadMu.Lock()
	a.reloading = false
	if err == nil {
		a.reloadedFor = version
		a.reloadsCount++
	}
	a.reloadMu.Unlock()

	if err != nil {
		a.logger.ErrorContext(ctx, "Reload after controller change failed",
			applog.FieldWorkerVersion, version, applog.FieldError, err.Error())
		return
	}
	a.logger.InfoContext(ctx, "Reloaded for new worker", applog.FieldWorkerVersion, version)
}

// Reloads returns how many controller-change reloads have happened.
func (a *App) Reloads() int {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.reloadsCount
}

// ErrNoUpdate is returned by ApplyUpdate when nothing is waiting.
var ErrNoUpdate = errors.New("no update available")

// UpdateAvailable reports a waiting worker version.
func (a *App) UpdateAvailable() bool {
	return a.reg.UpdateAvailable()
}

// ApplyUpdate tells the waiting worker to take over.
func (a *App) ApplyUpdate(ctx context.Context) error {
	if !a.reg.UpdateAvailable() {
		return ErrNoUpdate
	}
	return a.reg.PostMessage(ctx, cachesvc.Message{Type: cachesvc.MessageSkipWaiting})
}

// Online drives the offline indicator.
func (a *App) Online() bool {
	return a.monitor.Online()
}

func (a *App) Store() *store.Store                  { return a.store }
func (a *App) Registration() *cachesvc.Registration { return a.reg }
