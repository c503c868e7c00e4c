package http

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"budget/internal/app"
	applog "budget/internal/log"
	"budget/internal/metrics"
	appweb "budget/web"
)

// ReadyCheck reports whether a dependency is usable. Used by /readyz.
type ReadyCheck func(ctx context.Context) error

// Server is the origin: it renders the shell pages and serves the JSON API
// over the application's store.
type Server struct {
	http.Server
	app         *app.App
	templates   *template.Template
	rateLimiter *rateLimiter
	readyChecks map[string]ReadyCheck
	logger      *applog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithReadyCheck adds a named dependency check to /readyz.
func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) {
		s.readyChecks[name] = check
	}
}

// WithRateLimit overrides the per-IP limit on mutating requests.
func WithRateLimit(requestsPerMinute int) Option {
	return func(s *Server) {
		s.rateLimiter.stop()
		s.rateLimiter = newRateLimiter(requestsPerMinute)
	}
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, a *app.App, logger *applog.Logger, opts ...Option) *Server {
	s := &Server{
		app:         a,
		rateLimiter: newRateLimiter(defaultRequestsPerMinute),
		readyChecks: make(map[string]ReadyCheck),
		logger:      applog.OrDefault(logger, applog.ComponentHTTP),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Parse embedded templates at startup.
	t, err := template.New("").ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Warn("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	router := s.routes()
	handler := traceMiddleware(s.logger)(
		securityHeadersMiddleware(defaultHeadersConfig())(
			rateLimitMiddleware(s.rateLimiter)(router)))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(routeLabelMiddleware)

	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Shell pages and the assets the cache service precaches.
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/offline.html", s.handleOffline).Methods(http.MethodGet, http.MethodHead)
	for path, contentType := range rootAssets {
		r.Handle(path, rootAsset(path, contentType)).Methods(http.MethodGet, http.MethodHead)
	}
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.PathPrefix("/static/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		})).Methods(http.MethodGet, http.MethodHead)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)

	api.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", s.handleCreateItem).Methods(http.MethodPost)
	api.HandleFunc("/items", s.handleClearItems).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}", s.handleUpdateItem).Methods(http.MethodPut)
	api.HandleFunc("/items/{id}", s.handleDeleteItem).Methods(http.MethodDelete)

	api.HandleFunc("/budget-cap", s.handleSetBudgetCap).Methods(http.MethodPut)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications", s.handleAddNotification).Methods(http.MethodPost)
	api.HandleFunc("/notifications", s.handleClearNotifications).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkNotificationRead).Methods(http.MethodPost)

	api.HandleFunc("/preferences", s.handleUpdatePreferences).Methods(http.MethodPatch)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/currencies", s.handleCurrencies).Methods(http.MethodGet)

	api.HandleFunc("/sync", s.handleSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/update", s.handleUpdateStatus).Methods(http.MethodGet)
	api.HandleFunc("/update", s.handleApplyUpdate).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})
	return r
}

// Shutdown stops accepting requests and releases the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.stop()
	return s.Server.Shutdown(ctx)
}

// Serve accepts connections on ln until Shutdown. http.ErrServerClosed is
// reported as a clean stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Origin server listening", "addr", ln.Addr().String())
	if err := s.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", name, applog.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFoundError("not found").Write(w)
}
