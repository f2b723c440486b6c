package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"sightline/internal/logging"
	"sightline/internal/remote"
	"sightline/internal/store"
)

type countingReplayer struct {
	calls atomic.Int32
}

func (r *countingReplayer) OnConnectivityRestored(context.Context) remote.ReplayResult {
	r.calls.Add(1)
	return remote.ReplayResult{}
}

type stubProber struct {
	mu  sync.Mutex
	err error
}

func (p *stubProber) Send(context.Context, string, string, any, *remote.Options) (remote.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return remote.Result{StatusCode: http.StatusOK}, p.err
}

type flagTracker struct {
	mu        sync.Mutex
	online    bool
	listeners []func(bool)
}

func (f *flagTracker) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *flagTracker) SetOnline(online bool) {
	f.mu.Lock()
	changed := f.online != online
	f.online = online
	listeners := append([]func(bool){}, f.listeners...)
	f.mu.Unlock()
	if changed {
		for _, fn := range listeners {
			fn(online)
		}
	}
}

func (f *flagTracker) OnConnectivityChange(fn func(bool)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestProbeRestoresConnectivityAndReplays(t *testing.T) {
	tracker := &flagTracker{}
	prober := &stubProber{err: remote.Wrap(remote.ErrConnectivityLost, "GET /api/health", "", errors.New("refused"))}
	replayer := &countingReplayer{}
	m := New(Options{Interval: 10 * time.Millisecond}, prober, tracker, replayer, logging.NewNop())
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(30 * time.Millisecond)
	if tracker.Online() {
		t.Fatalf("expected to stay offline while probes fail")
	}
	if replayer.calls.Load() != 0 {
		t.Fatalf("expected no replay while offline")
	}

	prober.mu.Lock()
	prober.err = nil
	prober.mu.Unlock()
	waitFor(t, tracker.Online)
	waitFor(t, func() bool { return replayer.calls.Load() == 1 })
}

func TestProbeTreatsHTTPErrorAsReachable(t *testing.T) {
	tracker := &flagTracker{}
	prober := &stubProber{err: &remote.StatusError{Method: "GET", Endpoint: "/api/health", StatusCode: 503}}
	m := New(Options{}, prober, tracker, nil, nil)
	if !m.Probe(context.Background()) {
		t.Fatalf("expected an HTTP answer to count as reachable")
	}
	if !tracker.Online() {
		t.Fatalf("expected tracker online")
	}
}

func TestStartReplaysPersistedQueueWhenOnline(t *testing.T) {
	tracker := &flagTracker{online: true}
	replayer := &countingReplayer{}
	m := New(Options{Interval: time.Hour}, &stubProber{}, tracker, replayer, nil)
	m.Start(context.Background())
	defer m.Stop()
	waitFor(t, func() bool { return replayer.calls.Load() == 1 })
}

func TestMonitorWithRemoteClient(t *testing.T) {
	var healthy atomic.Bool
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			// drop the connection so the client sees a transport failure
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		if r.URL.Path == "/api/captures" {
			delivered.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q, err := remote.NewQueue(context.Background(), store.NewMemory(), nil)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	client := remote.NewClient(remote.ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), nil, q, nil)
	m := New(Options{Interval: 10 * time.Millisecond}, client, client, q, logging.NewNop())
	m.Start(context.Background())
	defer m.Stop()

	client.SetOnline(false)
	if _, err := client.Send(context.Background(), http.MethodPost, "/api/captures", map[string]string{"url": "https://example.com"}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued request, got %d", q.Len())
	}

	healthy.Store(true)
	waitFor(t, func() bool { return delivered.Load() == 1 && q.Len() == 0 })
}

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	cases := []struct {
		action    netlink.KObjAction
		subsystem string
		want      bool
	}{
		{netlink.ADD, "net", true},
		{netlink.CHANGE, "net", true},
		{netlink.MOVE, "net", true},
		{netlink.ONLINE, "net", true},
		{netlink.REMOVE, "net", false},
		{netlink.OFFLINE, "net", false},
		{netlink.UNBIND, "net", false},
		{netlink.CHANGE, "block", false},
		{netlink.ADD, "netfilter", false},
	}
	for _, tc := range cases {
		ev := netlink.UEvent{Action: tc.action, Env: map[string]string{"SUBSYSTEM": tc.subsystem, "INTERFACE": "wlan0"}}
		if got := matcher.Evaluate(ev); got != tc.want {
			t.Fatalf("%s on %s: matched=%v, want %v", tc.action, tc.subsystem, got, tc.want)
		}
	}
}

func TestNetlinkWatcherHandleEvent(t *testing.T) {
	var reasons []string
	w := newNetlinkWatcher(nil, func(reason string) { reasons = append(reasons, reason) })
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"INTERFACE": "lo"}})
	w.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
	w.handleEvent(netlink.UEvent{Action: netlink.KObjAction("online"), Env: map[string]string{"INTERFACE": "eth0"}})
	if len(reasons) != 1 || reasons[0] != "netlink online eth0" {
		t.Fatalf("unexpected triggers %v", reasons)
	}

	var nilWatcher *netlinkWatcher
	nilWatcher.Start(context.Background())
	nilWatcher.Stop()
	if nilWatcher.Running() {
		t.Fatalf("nil watcher must not report running")
	}
}
