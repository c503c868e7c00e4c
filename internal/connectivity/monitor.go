// Package connectivity tracks the binary online/offline signal of the device.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "budget/internal/log"
)

// Monitor holds the current connectivity state and notifies subscribers on
// every transition.
type Monitor struct {
	// notifyMu serializes transitions with their delivery, so subscribers
	// see them in the order they were recorded.
	notifyMu sync.Mutex

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
	logger *applog.Logger

	probeURL string
	client   *http.Client
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe enables Run to poll url with HEAD requests.
func WithProbe(url string, timeout time.Duration) Option {
	return func(m *Monitor) {
		m.probeURL = url
		m.client = &http.Client{Timeout: timeout}
	}
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool, logger *applog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		online: online,
		subs:   make(map[int]func(bool)),
		logger: applog.OrDefault(logger, applog.ComponentConnectivity),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: 5 * time.Second}
	}
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state. Subscribers run only when it changes, in
// subscription order. Concurrent transitions are delivered one at a time in
// the order they were recorded; subscribers may read the state but must not
// call Set.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", "online", online)
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for transitions and returns a cancel function.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Probe checks the probe URL once and records the result. Any response
// below 500 counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.Online()
	}
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	m.Set(online)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Warn("Invalid probe request", applog.FieldError, err.Error())
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("Probe failed", applog.FieldError, err.Error())
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes every interval until ctx is done. Without a probe URL it
// returns immediately.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if m.probeURL == "" || interval <= 0 {
		return
	}
	m.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
