package cachesvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	applog "budget/internal/log"
	"budget/internal/metrics"
)

var (
	// ErrInstallFailed wraps any precache failure.
	ErrInstallFailed = errors.New("worker install failed")
	// ErrNotInstalled is returned when activating a worker that is not installed.
	ErrNotInstalled = errors.New("worker not installed")
)

// OfflineMessage is the body returned for uncached API requests while offline.
const OfflineMessage = "You are offline and this data is not cached."

const (
	strategyNetworkFirst = "network_first"
	strategyCacheFirst   = "cache_first"
	strategySWR          = "stale_while_revalidate"
	strategyPassthrough  = "passthrough"

	sourceCache    = "cache"
	sourceNetwork  = "network"
	sourceFallback = "fallback"

	precacheConcurrency = 4
	refreshTimeout      = 30 * time.Second
)

// WorkerState is the lifecycle position of a worker version.
type WorkerState string

const (
	StateParsed     WorkerState = "parsed"
	StateInstalling WorkerState = "installing"
	StateInstalled  WorkerState = "installed"
	StateActivating WorkerState = "activating"
	StateActivated  WorkerState = "activated"
	StateRedundant  WorkerState = "redundant"
)

// Worker is one installed version of the cache service.
type Worker struct {
	manifest Manifest
	origin   *url.URL
	storage  Storage
	network  Fetcher
	clients  *Clients
	logger   *applog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	state  WorkerState
	bucket Bucket

	refresh    singleflight.Group
	background sync.WaitGroup
}

func newWorker(m Manifest, origin *url.URL, storage Storage, network Fetcher, clients *Clients, logger *applog.Logger) *Worker {
	return &Worker{
		manifest: m,
		origin:   origin,
		storage:  storage,
		network:  network,
		clients:  clients,
		logger:   logger.With(applog.FieldWorkerVersion, m.Version),
		now:      time.Now,
		state:    StateParsed,
	}
}

// Version is the manifest version the worker was built from.
func (w *Worker) Version() string { return w.manifest.Version }

// CacheName is the bucket this version owns.
func (w *Worker) CacheName() string { return w.manifest.CacheName() }

// Manifest returns the worker's manifest.
func (w *Worker) Manifest() Manifest { return w.manifest }

// State returns the current lifecycle position.
func (w *Worker) State() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	metrics.CacheLifecycle.WithLabelValues(string(s)).Inc()
}

// Install precaches every manifest resource. Either all of them are stored
// in the version's bucket or no bucket is left behind.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	w.logger.InfoContext(ctx, "Installing cache worker",
		applog.FieldOperation, applog.OpInstall,
		applog.FieldCacheName, w.CacheName(), "resources", len(w.manifest.Precache))

	responses := make([]*Response, len(w.manifest.Precache))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for i, path := range w.manifest.Precache {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			resp, err := w.network.Fetch(gctx, req)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("precache %s: status %d", path, resp.StatusCode)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return w.failInstall(ctx, err)
	}

	bucket, err := w.storage.Open(ctx, w.CacheName())
	if err != nil {
		return w.failInstall(ctx, err)
	}
	stored := w.now()
	for i, path := range w.manifest.Precache {
		resp := responses[i]
		resp.StoredAt = stored
		if err := bucket.Put(ctx, pathKey(path), resp); err != nil {
			if _, derr := w.storage.Delete(ctx, w.CacheName()); derr != nil {
				w.logger.WarnContext(ctx, "Could not remove partial bucket", applog.FieldError, derr.Error())
			}
			return w.failInstall(ctx, err)
		}
	}

	w.mu.Lock()
	w.bucket = bucket
	w.mu.Unlock()
	w.setState(StateInstalled)
	w.logger.InfoContext(ctx, "Cache worker installed", applog.FieldCacheName, w.CacheName())
	return nil
}

func (w *Worker) failInstall(ctx context.Context, err error) error {
	w.setState(StateRedundant)
	w.logger.ErrorContext(ctx, "Cache worker install failed",
		applog.FieldCacheName, w.CacheName(), applog.FieldError, err.Error())
	return fmt.Errorf("%w: %v", ErrInstallFailed, err)
}

// Activate removes every bucket not owned by this version.
func (w *Worker) Activate(ctx context.Context) error {
	if st := w.State(); st != StateInstalled {
		return fmt.Errorf("%w: state %s", ErrNotInstalled, st)
	}
	w.setState(StateActivating)

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, name := range names {
		if name == w.CacheName() {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.setState(StateInstalled)
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
		w.logger.InfoContext(ctx, "Deleted old cache", applog.FieldCacheName, name)
	}

	w.setState(StateActivated)
	return nil
}

func (w *Worker) retire() {
	w.setState(StateRedundant)
}

// Wait blocks until background revalidations have finished.
func (w *Worker) Wait() {
	w.background.Wait()
}

// HandleSync answers a background-sync event.
func (w *Worker) HandleSync(ctx context.Context, tag string) {
	if tag != SyncTag {
		w.logger.DebugContext(ctx, "Ignoring sync tag", "tag", tag)
		return
	}
	n := w.clients.Broadcast(Message{Type: MessageSyncRequired})
	w.logger.InfoContext(ctx, "Sync required broadcast", "clients", n)
}

// Handle answers an intercepted request.
func (w *Worker) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	w.mu.RLock()
	bucket := w.bucket
	w.mu.RUnlock()

	switch {
	case bucket == nil || w.crossOrigin(r):
		metrics.CacheResponses.WithLabelValues(strategyPassthrough, sourceNetwork).Inc()
		return w.network.Fetch(ctx, r)
	case strings.Contains(r.URL.Path, w.manifest.APIPattern):
		return w.networkFirst(ctx, bucket, r), nil
	case r.Method != http.MethodGet:
		metrics.CacheResponses.WithLabelValues(strategyPassthrough, sourceNetwork).Inc()
		return w.network.Fetch(ctx, r)
	case isNavigation(r):
		return w.cacheFirst(ctx, bucket, r)
	default:
		return w.staleWhileRevalidate(ctx, bucket, r)
	}
}

func (w *Worker) crossOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return false
	}
	return !strings.EqualFold(r.URL.Scheme, w.origin.Scheme) || !strings.EqualFold(r.URL.Host, w.origin.Host)
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (w *Worker) networkFirst(ctx context.Context, bucket Bucket, r *http.Request) *Response {
	key := RequestKey(r)
	cacheable := r.Method == http.MethodGet

	resp, err := w.network.Fetch(ctx, r)
	if err == nil {
		if cacheable && resp.OK() {
			w.put(ctx, bucket, key, resp)
		}
		metrics.CacheResponses.WithLabelValues(strategyNetworkFirst, sourceNetwork).Inc()
		return resp
	}
	w.logger.DebugContext(ctx, "Network failed, trying cache",
		applog.FieldOperation, applog.OpFetch, applog.FieldStrategy, strategyNetworkFirst,
		applog.FieldCacheKey, key, applog.FieldError, err.Error())

	if cacheable {
		if cached := w.match(ctx, bucket, key); cached != nil {
			metrics.CacheResponses.WithLabelValues(strategyNetworkFirst, sourceCache).Inc()
			return cached
		}
	}
	metrics.CacheResponses.WithLabelValues(strategyNetworkFirst, sourceFallback).Inc()
	return JSONResponse(http.StatusOK, map[string]string{"error": OfflineMessage})
}

func (w *Worker) cacheFirst(ctx context.Context, bucket Bucket, r *http.Request) (*Response, error) {
	key := RequestKey(r)
	if cached := w.match(ctx, bucket, key); cached != nil {
		metrics.CacheResponses.WithLabelValues(strategyCacheFirst, sourceCache).Inc()
		return cached, nil
	}

	resp, err := w.network.Fetch(ctx, r)
	if err == nil {
		if resp.OK() {
			w.put(ctx, bucket, key, resp)
		}
		metrics.CacheResponses.WithLabelValues(strategyCacheFirst, sourceNetwork).Inc()
		return resp, nil
	}

	if w.manifest.OfflinePage != "" {
		if page := w.match(ctx, bucket, pathKey(w.manifest.OfflinePage)); page != nil {
			metrics.CacheResponses.WithLabelValues(strategyCacheFirst, sourceFallback).Inc()
			return page, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrOffline, r.URL.Path, err)
}

func (w *Worker) staleWhileRevalidate(ctx context.Context, bucket Bucket, r *http.Request) (*Response, error) {
	key := RequestKey(r)
	if cached := w.match(ctx, bucket, key); cached != nil {
		w.revalidate(ctx, bucket, r, key)
		metrics.CacheResponses.WithLabelValues(strategySWR, sourceCache).Inc()
		return cached, nil
	}

	resp, err := w.fetchAndStore(ctx, bucket, r, key)
	if err != nil {
		w.logger.WarnContext(ctx, "Fetch failed",
			applog.FieldOperation, applog.OpFetch, applog.FieldStrategy, strategySWR,
			applog.FieldCacheKey, key, applog.FieldError, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrOffline, r.URL.Path, err)
	}
	metrics.CacheResponses.WithLabelValues(strategySWR, sourceNetwork).Inc()
	return resp, nil
}

// revalidate refreshes key in the background. Concurrent refreshes of the
// same key share one network fetch.
func (w *Worker) revalidate(ctx context.Context, bucket Bucket, r *http.Request, key string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	req := r.Clone(bg)
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		defer cancel()
		if _, err := w.fetchAndStore(bg, bucket, req, key); err != nil {
			w.logger.WarnContext(bg, "Background revalidation failed",
				applog.FieldOperation, applog.OpFetch, applog.FieldStrategy, strategySWR,
				applog.FieldCacheKey, key, applog.FieldError, err.Error())
		}
	}()
}

func (w *Worker) fetchAndStore(ctx context.Context, bucket Bucket, r *http.Request, key string) (*Response, error) {
	v, err, _ := w.refresh.Do(key, func() (any, error) {
		resp, err := w.network.Fetch(ctx, r)
		if err != nil {
			return nil, err
		}
		if resp.OK() {
			w.put(ctx, bucket, key, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response).Clone(), nil
}

func (w *Worker) match(ctx context.Context, bucket Bucket, key string) *Response {
	resp, ok, err := bucket.Match(ctx, key)
	if err != nil {
		w.logger.WarnContext(ctx, "Cache lookup failed", applog.FieldCacheKey, key, applog.FieldError, err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	return resp
}

func (w *Worker) put(ctx context.Context, bucket Bucket, key string, resp *Response) {
	stored := resp.Clone()
	stored.StoredAt = w.now()
	if err := bucket.Put(context.WithoutCancel(ctx), key, stored); err != nil {
		w.logger.WarnContext(ctx, "Cache write failed", applog.FieldCacheKey, key, applog.FieldError, err.Error())
	}
}
