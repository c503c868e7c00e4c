package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"budget/internal/cachesvc"
	"budget/internal/connectivity"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
	"budget/internal/store"
)

type harness struct {
	app       *App
	store     *store.Store
	reg       *cachesvc.Registration
	monitor   *connectivity.Monitor
	exchanges atomic.Int32
}

func shellHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset " + r.URL.Path))
	})
	return mux
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	h := &harness{}
	ctx := context.Background()

	h.monitor = connectivity.NewMonitor(online, applog.Discard())
	st, err := store.Open(ctx, store.Options{
		Persister: storage.NewMemoryStore(),
		Exchanger: store.ExchangeFunc(func(context.Context, []core.PendingChange) error {
			h.exchanges.Add(1)
			return nil
		}),
		Online: h.monitor,
		Logger: applog.Discard(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	h.store = st

	local, _ := url.Parse("http://budget.local")
	network := cachesvc.OfflineAware(cachesvc.HandlerFetcher{Handler: shellHandler()}, h.monitor, local)
	reg, err := cachesvc.NewRegistration("http://budget.local", cachesvc.NewMemoryStorage(0, 0, nil), network, applog.Discard())
	if err != nil {
		t.Fatalf("NewRegistration: %v", err)
	}
	h.reg = reg

	h.app = New(st, reg, h.monitor, applog.Discard())
	h.app.Start(ctx)
	t.Cleanup(h.app.Stop)
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconnectTriggersSync(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	if _, err := h.reg.Register(ctx, cachesvc.DefaultManifest()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h.monitor.Set(false)
	h.store.AddItem(ctx, core.Item{Title: "Offline lunch", Amount: 1500})
	if h.store.PendingCount() != 1 {
		t.Fatalf("pending = %d", h.store.PendingCount())
	}

	h.monitor.Set(true)
	eventually(t, "queue drained", func() bool { return h.store.PendingCount() == 0 })
	if h.exchanges.Load() < 1 {
		t.Fatalf("exchange never ran")
	}
	if h.store.State().Sync.LastSynced == nil {
		t.Fatalf("last synced not stamped")
	}
}

func TestReconnectWithoutWorkerStillSyncs(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.store.AddItem(ctx, core.Item{Title: "A", Amount: 1})

	h.monitor.Set(true)
	eventually(t, "queue drained", func() bool { return h.store.PendingCount() == 0 })
}

func TestSyncRequiredMessageTriggersSync(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	if _, err := h.reg.Register(ctx, cachesvc.DefaultManifest()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.store.AddItem(ctx, core.Item{Title: "A", Amount: 1})

	if err := h.reg.RegisterSync(ctx, cachesvc.SyncTag); err != nil {
		t.Fatalf("RegisterSync: %v", err)
	}
	eventually(t, "queue drained", func() bool { return h.store.PendingCount() == 0 })
}

func TestControllerChangeReloadsOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if _, err := h.reg.Register(ctx, cachesvc.DefaultManifest()); err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	eventually(t, "first reload", func() bool { return h.app.Reloads() == 1 })

	m := cachesvc.DefaultManifest()
	m.Version = "v2"
	if _, err := h.reg.Register(ctx, m); err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if !h.app.UpdateAvailable() {
		t.Fatalf("update should be available")
	}
	if err := h.app.ApplyUpdate(ctx); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	eventually(t, "reload for v2", func() bool { return h.app.Reloads() == 2 })

	// A duplicate controller-change signal for the same version is ignored.
	h.app.handleControllerChange(ctx, "v2")
	if h.app.Reloads() != 2 {
		t.Fatalf("duplicate controller change reloaded again")
	}
	if h.reg.Active().Version() != "v2" {
		t.Fatalf("active = %s", h.reg.Active().Version())
	}
}

func TestApplyUpdateWithoutUpdate(t *testing.T) {
	h := newHarness(t, true)
	if err := h.app.ApplyUpdate(context.Background()); !errors.Is(err, ErrNoUpdate) {
		t.Fatalf("expected ErrNoUpdate, got %v", err)
	}
}

func TestOnlineReflectsMonitor(t *testing.T) {
	h := newHarness(t, true)
	h.monitor.Set(false)
	if h.app.Online() {
		t.Fatalf("app should report offline")
	}
}

func TestStopDuringReconnectSyncDoesNotFail(t *testing.T) {
	ctx := context.Background()
	monitor := connectivity.NewMonitor(false, applog.Discard())
	started := make(chan struct{})
	release := make(chan struct{})
	st, err := store.Open(ctx, store.Options{
		Persister: storage.NewMemoryStore(),
		Exchanger: store.ExchangeFunc(func(ctx context.Context, _ []core.PendingChange) error {
			close(started)
			<-release
			return ctx.Err()
		}),
		Online: monitor,
		Logger: applog.Discard(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	reg, err := cachesvc.NewRegistration("http://budget.local", cachesvc.NewMemoryStorage(0, 0, nil),
		cachesvc.HandlerFetcher{Handler: shellHandler()}, applog.Discard())
	if err != nil {
		t.Fatalf("NewRegistration: %v", err)
	}
	a := New(st, reg, monitor, applog.Discard())
	a.Start(ctx)

	st.AddItem(ctx, core.Item{Title: "Coffee", Amount: 1500, Currency: "NGN"})
	monitor.Set(true)
	<-started

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()
	eventually(t, "app context cancelled", func() bool { return a.ctx.Err() != nil })
	close(release)
	<-stopped

	for _, n := range st.State().Notifications {
		if n.Type == core.NotificationError {
			t.Fatalf("shutdown recorded a sync failure: %+v", n)
		}
	}
	if st.PendingCount() != 0 {
		t.Fatalf("pending = %d, want 0", st.PendingCount())
	}

	// Transitions after Stop start no work.
	monitor.Set(false)
	monitor.Set(true)
}
