package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"budget/internal/app"
	"budget/internal/cachesvc"
	"budget/internal/connectivity"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
	"budget/internal/store"
)

// offlineEnv serves the real origin behind the cache service, the way
// cmd/budget wires it.
type offlineEnv struct {
	reg     *cachesvc.Registration
	store   *store.Store
	monitor *connectivity.Monitor
}

func newOfflineEnv(t *testing.T) *offlineEnv {
	t.Helper()
	ctx := context.Background()
	env := &offlineEnv{}

	env.monitor = connectivity.NewMonitor(true, applog.Discard())
	st, err := store.Open(ctx, store.Options{
		Persister: storage.NewMemoryStore(),
		Exchanger: store.ExchangeFunc(func(context.Context, []core.PendingChange) error { return nil }),
		Online:    env.monitor,
		Logger:    applog.Discard(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	env.store = st

	var origin http.Handler
	fetcher := cachesvc.HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.ServeHTTP(w, r)
	})}
	local, _ := url.Parse("http://budget.local")
	reg, err := cachesvc.NewRegistration(local.String(), cachesvc.NewMemoryStorage(0, 0, nil),
		cachesvc.OfflineAware(fetcher, env.monitor, local), applog.Discard())
	if err != nil {
		t.Fatalf("NewRegistration: %v", err)
	}
	env.reg = reg

	a := app.New(st, reg, env.monitor, applog.Discard())
	srv := NewServer(":0", a, applog.Discard())
	t.Cleanup(func() { srv.rateLimiter.stop() })
	origin = srv.Handler

	a.Start(ctx)
	t.Cleanup(a.Stop)

	if _, err := reg.Register(ctx, cachesvc.DefaultManifest()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return env
}

func (e *offlineEnv) do(r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.reg.ServeHTTP(rr, r)
	return rr
}

func TestOfflineAddReachesStoreAndSyncsOnReconnect(t *testing.T) {
	env := newOfflineEnv(t)
	env.monitor.Set(false)

	req := httptest.NewRequest(http.MethodPost, "/api/items",
		strings.NewReader(`{"title":"Coffee","amount":1500,"currency":"NGN"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := env.do(req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create while offline: status=%d body=%s", rr.Code, rr.Body.String())
	}

	changes := env.store.State().Sync.PendingChanges
	if len(changes) != 1 || changes[0].Type != core.ChangeAdd {
		t.Fatalf("pending = %+v, want one add", changes)
	}

	// Reads go network-first to the local origin and see the new record.
	state := env.do(httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if !strings.Contains(state.Body.String(), "Coffee") {
		t.Fatalf("state read missing item: %s", state.Body.String())
	}

	env.monitor.Set(true)
	deadline := time.Now().Add(2 * time.Second)
	for env.store.PendingCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var success []core.Notification
	for _, n := range env.store.State().Notifications {
		if n.Type == core.NotificationSuccess {
			success = append(success, n)
		}
	}
	if len(success) != 1 || !strings.Contains(success[0].Message, "1") {
		t.Fatalf("success notifications = %+v", success)
	}
}

func TestCachedShellServesLiveStateThroughAPI(t *testing.T) {
	env := newOfflineEnv(t)

	nav := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Sec-Fetch-Mode", "navigate")
		return r
	}
	shell := env.do(nav()).Body.String()

	form := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader("title=Coffee&amount=1500"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rr := env.do(form); rr.Code != http.StatusSeeOther {
		t.Fatalf("form post status=%d", rr.Code)
	}

	if got := env.do(nav()).Body.String(); got != shell {
		t.Fatalf("cached shell changed")
	}
	summary := env.do(httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if !strings.Contains(summary.Body.String(), `"totalItems":1`) {
		t.Fatalf("summary does not reflect the new item: %s", summary.Body.String())
	}
}
