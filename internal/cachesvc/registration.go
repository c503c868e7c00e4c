package cachesvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	applog "budget/internal/log"
	"budget/internal/metrics"
)

var (
	// ErrNoActiveWorker is returned by operations that need a controller.
	ErrNoActiveWorker = errors.New("no active worker")
	// ErrUnsupportedMessage is returned for messages the worker does not accept.
	ErrUnsupportedMessage = errors.New("unsupported message")
)

// Registration is the per-origin installation of the cache service. It owns
// the active and waiting workers and the set of controlled clients.
type Registration struct {
	origin  *url.URL
	storage Storage
	network Fetcher
	clients *Clients
	logger  *applog.Logger

	// lifecycle serializes Register and activation.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewRegistration creates an empty registration for origin.
func NewRegistration(origin string, storage Storage, network Fetcher, logger *applog.Logger) (*Registration, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", origin, err)
	}
	if storage == nil || network == nil {
		return nil, errors.New("cachesvc: storage and network are required")
	}
	l := applog.OrDefault(logger, applog.ComponentCache)
	return &Registration{
		origin:  u,
		storage: storage,
		network: network,
		clients: newClients(l),
		logger:  l,
	}, nil
}

// Clients returns the set of controlled application instances.
func (r *Registration) Clients() *Clients { return r.clients }

// Active returns the controlling worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting to take over, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// UpdateAvailable reports a newly installed version next to an active one.
func (r *Registration) UpdateAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil && r.waiting != nil
}

// Register installs the manifest's version. The first version activates
// immediately; later ones wait for SKIP_WAITING. A failed install leaves the
// current workers untouched.
func (r *Registration) Register(ctx context.Context, m Manifest) (*Worker, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.RLock()
	active, waiting := r.active, r.waiting
	r.mu.RUnlock()
	if active != nil && active.Version() == m.Version {
		return active, nil
	}
	if waiting != nil && waiting.Version() == m.Version {
		return waiting, nil
	}

	w := newWorker(m, r.origin, r.storage, r.network, r.clients, r.logger)
	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	if active == nil {
		if err := r.activate(ctx, w); err != nil {
			return nil, err
		}
		return w, nil
	}

	r.mu.Lock()
	r.waiting = w
	r.mu.Unlock()
	if waiting != nil {
		waiting.retire()
	}
	r.logger.InfoContext(ctx, "Update available",
		applog.FieldWorkerVersion, w.Version(), "active_version", active.Version())
	return w, nil
}

// activate must be called with the lifecycle lock held.
func (r *Registration) activate(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		return fmt.Errorf("activate %s: %w", w.Version(), err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil {
		previous.retire()
	}
	r.clients.claim(w.Version())
	metrics.CacheLifecycle.WithLabelValues("claimed").Inc()
	r.logger.InfoContext(ctx, "Worker activated and claimed clients",
		applog.FieldWorkerVersion, w.Version(), "clients", r.clients.Len())
	return nil
}

// PostMessage delivers an application message to the worker side.
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		r.lifecycle.Lock()
		defer r.lifecycle.Unlock()
		w := r.Waiting()
		if w == nil {
			r.logger.DebugContext(ctx, "Skip waiting with no waiting worker")
			return nil
		}
		return r.activate(ctx, w)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMessage, msg.Type)
	}
}

// RegisterSync requests a background sync for tag. The active worker
// handles the resulting sync event.
func (r *Registration) RegisterSync(ctx context.Context, tag string) error {
	w := r.Active()
	if w == nil {
		return ErrNoActiveWorker
	}
	w.HandleSync(ctx, tag)
	return nil
}

// ServeHTTP routes intercepted requests through the active worker, or
// straight to the network when nothing is in control yet.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var (
		resp *Response
		err  error
	)
	if w := r.Active(); w != nil {
		resp, err = w.Handle(ctx, req)
	} else {
		resp, err = r.network.Fetch(ctx, req)
	}

	if err != nil {
		r.logger.WarnContext(ctx, "Request could not be served",
			applog.FieldPath, req.URL.Path, applog.FieldError, err.Error())
		if errors.Is(err, ErrOffline) {
			http.Error(rw, "You are offline and this page is not cached.", http.StatusServiceUnavailable)
			return
		}
		http.Error(rw, "Upstream unavailable", http.StatusBadGateway)
		return
	}
	if err := resp.Write(rw); err != nil {
		r.logger.DebugContext(ctx, "Write response failed", applog.FieldError, err.Error())
	}
}

// Wait blocks until the active worker's background work has finished.
func (r *Registration) Wait() {
	if w := r.Active(); w != nil {
		w.Wait()
	}
}
