package cachesvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrOffline is returned when neither the network nor the cache can answer.
var ErrOffline = errors.New("offline and not cached")

const defaultMaxBody = 10 << 20

// Fetcher is the network as seen by the worker. Transport failures are
// errors; any HTTP status is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*Response, error) {
	return f(ctx, r)
}

// OnlineChecker reports the device connectivity signal.
type OnlineChecker interface {
	Online() bool
}

// HTTPFetcher forwards requests to an upstream origin over HTTP. Relative
// request URLs are resolved against Upstream; absolute ones are fetched as is.
type HTTPFetcher struct {
	Upstream *url.URL
	Client   *http.Client
	MaxBody  int64
}

// NewHTTPFetcher returns a fetcher for the given upstream base URL.
func NewHTTPFetcher(upstream string, timeout time.Duration) (*HTTPFetcher, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", upstream, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute URL", upstream)
	}
	return &HTTPFetcher{
		Upstream: u,
		Client:   &http.Client{Timeout: timeout},
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r *http.Request) (*Response, error) {
	out := r.Clone(ctx)
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		u := *f.Upstream
		u.Path = r.URL.Path
		u.RawPath = r.URL.RawPath
		u.RawQuery = r.URL.RawQuery
		out.URL = &u
		out.Host = u.Host
	}
	if r.Body == nil || r.Body == http.NoBody {
		out.Body = nil
	}
	// The upstream only sees this process as its peer.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out.Header.Set("X-Forwarded-For", host)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", out.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	limit := f.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", out.URL.Redacted(), err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// HandlerFetcher serves requests from an in-process handler.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := &bufferedWriter{header: make(http.Header)}
	f.Handler.ServeHTTP(rec, r.WithContext(ctx))
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return &Response{
		StatusCode: rec.status,
		Header:     rec.header,
		Body:       rec.body.Bytes(),
	}, nil
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

// OfflineAware fails fast with ErrOffline for remote requests while the
// checker reports offline. Requests for the local origin, which owns the
// store, always reach next: queued writes must land while offline.
func OfflineAware(next Fetcher, online OnlineChecker, local *url.URL) Fetcher {
	return FetcherFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		if !isLocal(r, local) && !online.Online() {
			return nil, ErrOffline
		}
		return next.Fetch(ctx, r)
	})
}

func isLocal(r *http.Request, local *url.URL) bool {
	if !r.URL.IsAbs() {
		return true
	}
	return local != nil && strings.EqualFold(r.URL.Host, local.Host)
}
