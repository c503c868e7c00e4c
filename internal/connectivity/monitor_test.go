package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	applog "budget/internal/log"
)

func TestSetNotifiesOnlyOnTransitions(t *testing.T) {
	m := NewMonitor(true, applog.Discard())
	var got []bool
	cancel := m.Subscribe(func(online bool) { got = append(got, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("transitions = %v", got)
	}

	cancel()
	cancel()
	m.Set(false)
	if len(got) != 2 {
		t.Fatalf("cancelled subscriber still called")
	}
	if m.Online() {
		t.Fatalf("state should be offline")
	}
}

func TestSubscribersRunInOrder(t *testing.T) {
	m := NewMonitor(false, applog.Discard())
	var order []int
	for i := 0; i < 3; i++ {
		m.Subscribe(func(bool) { order = append(order, i) })
	}
	m.Set(true)
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Fatalf("order = %v", order)
	}
}

func TestSubscriberMayReadState(t *testing.T) {
	m := NewMonitor(false, applog.Discard())
	var seen atomic.Bool
	m.Subscribe(func(bool) { seen.Store(m.Online()) })
	m.Set(true)
	if !seen.Load() {
		t.Fatalf("subscriber saw stale state")
	}
}

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe method = %s", r.Method)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	m := NewMonitor(false, applog.Discard(), WithProbe(srv.URL, time.Second))
	ctx := context.Background()

	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusNoContent, true},
		{http.StatusNotFound, true},
		{http.StatusServiceUnavailable, false},
		{http.StatusOK, true},
	}
	for _, tt := range tests {
		status.Store(int32(tt.status))
		if got := m.Probe(ctx); got != tt.want || m.Online() != tt.want {
			t.Errorf("status %d: probe = %v, want %v", tt.status, got, tt.want)
		}
	}

	srv.Close()
	if m.Probe(ctx) {
		t.Errorf("unreachable probe should report offline")
	}
}

func TestProbeWithoutURLKeepsState(t *testing.T) {
	m := NewMonitor(true, applog.Discard())
	if !m.Probe(context.Background()) {
		t.Fatalf("probe without url changed state")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(false, applog.Discard(), WithProbe(srv.URL, time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !m.Online() {
		select {
		case <-deadline:
			t.Fatalf("monitor never went online")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestConcurrentTransitionsDeliveredInOrder(t *testing.T) {
	m := NewMonitor(true, applog.Discard())
	var (
		mu   sync.Mutex
		last bool
	)
	m.Subscribe(func(online bool) {
		// Widen the window between recording and delivery.
		time.Sleep(time.Millisecond)
		mu.Lock()
		last = online
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); m.Set(false) }()
		go func() { defer wg.Done(); m.Set(true) }()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last != m.Online() {
		t.Fatalf("last delivered = %v, monitor reports %v", last, m.Online())
	}
}
