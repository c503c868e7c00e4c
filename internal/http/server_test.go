package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"budget/internal/app"
	"budget/internal/cachesvc"
	"budget/internal/connectivity"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
	"budget/internal/store"
)

type testEnv struct {
	srv       *Server
	app       *app.App
	store     *store.Store
	monitor   *connectivity.Monitor
	failSync  atomic.Bool
	exchanges atomic.Int32
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{}
	ctx := context.Background()

	env.monitor = connectivity.NewMonitor(true, applog.Discard())
	st, err := store.Open(ctx, store.Options{
		Persister: storage.NewMemoryStore(),
		Exchanger: store.ExchangeFunc(func(context.Context, []core.PendingChange) error {
			env.exchanges.Add(1)
			if env.failSync.Load() {
				return errors.New("remote unavailable")
			}
			return nil
		}),
		Online: env.monitor,
		Logger: applog.Discard(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	env.store = st

	shell := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("shell"))
	})
	reg, err := cachesvc.NewRegistration("http://budget.local", cachesvc.NewMemoryStorage(0, 0, nil),
		cachesvc.HandlerFetcher{Handler: shell}, applog.Discard())
	if err != nil {
		t.Fatalf("NewRegistration: %v", err)
	}

	env.app = app.New(st, reg, env.monitor, applog.Discard())
	env.app.Start(ctx)
	t.Cleanup(env.app.Stop)

	env.srv = NewServer(":0", env.app, applog.Discard(), opts...)
	t.Cleanup(func() { env.srv.rateLimiter.stop() })
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Budget Tracker") {
		t.Fatalf("index body missing heading")
	}
	if !strings.Contains(rr.Body.String(), `id="connectivity"`) {
		t.Errorf("index should carry the connectivity indicator")
	}

	for _, path := range []string{"/healthz", "/readyz", "/offline.html", "/metrics", "/static/style.css"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

// The index is precached and served cache-first, so it must not embed
// store state that would go stale.
func TestIndexIsStaticShell(t *testing.T) {
	env := newTestEnv(t)
	before := env.do(t, http.MethodGet, "/", "").Body.String()

	env.monitor.Set(false)
	env.store.AddItem(context.Background(), core.Item{Title: "Groceries", Amount: 2500, Category: "Food"})

	after := env.do(t, http.MethodGet, "/", "").Body.String()
	if before != after {
		t.Fatalf("index changed with store state")
	}
	if strings.Contains(after, "Groceries") {
		t.Fatalf("index embeds item rows")
	}
	if !strings.Contains(after, `value="NGN"`) {
		t.Errorf("currency options missing")
	}
}

func TestRootAssets(t *testing.T) {
	env := newTestEnv(t)
	for path, contentType := range rootAssets {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if got := rr.Header().Get("Content-Type"); got != contentType {
			t.Errorf("%s content type = %q, want %q", path, got, contentType)
		}
	}
}

func TestReadyCheckFailure(t *testing.T) {
	env := newTestEnv(t, WithReadyCheck("db", func(context.Context) error {
		return errors.New("down")
	}))
	rr := env.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "")

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if id := rr.Header().Get(RequestIDHeader); !strings.HasPrefix(id, "req_") {
		t.Errorf("request id = %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "upstream-id" {
		t.Errorf("incoming request id not propagated: %q", got)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Error == "" {
		t.Errorf("expected JSON error body")
	}

	rr = env.do(t, http.MethodPatch, "/api/items", `{}`)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestRateLimitOnMutatingRequests(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(3))

	for i := 0; i < 3; i++ {
		if rr := env.do(t, http.MethodPost, "/api/sync", ""); rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i+1)
		}
	}
	rr := env.do(t, http.MethodPost, "/api/sync", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Errorf("missing Retry-After")
	}

	// Reads are never limited.
	if rr := env.do(t, http.MethodGet, "/api/state", ""); rr.Code != http.StatusOK {
		t.Fatalf("GET limited: %d", rr.Code)
	}
}
