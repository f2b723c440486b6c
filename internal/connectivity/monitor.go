// Package connectivity tracks whether the backend is reachable and replays
// the offline queue when it comes back.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sightline/internal/logging"
	"sightline/internal/remote"
)

const defaultInterval = 30 * time.Second

// Prober issues the health request. remote.Client satisfies it.
type Prober interface {
	Send(ctx context.Context, method, endpoint string, body any, opts *remote.Options) (remote.Result, error)
}

// Tracker holds the shared connectivity flag. remote.Client satisfies it.
type Tracker interface {
	Online() bool
	SetOnline(online bool)
	OnConnectivityChange(fn func(online bool))
}

// Replayer drains undelivered requests. remote.Queue satisfies it.
type Replayer interface {
	OnConnectivityRestored(ctx context.Context) remote.ReplayResult
}

// Options configures probing.
type Options struct {
	HealthPath string
	Interval   time.Duration
	Netlink    bool
}

// Monitor probes the backend while offline and replays the offline queue on
// every offline-to-online transition.
type Monitor struct {
	opts     Options
	prober   Prober
	tracker  Tracker
	replayer Replayer
	logger   *slog.Logger
	watcher  *netlinkWatcher

	wake chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Monitor and subscribes it to tracker transitions.
func New(opts Options, prober Prober, tracker Tracker, replayer Replayer, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if strings.TrimSpace(opts.HealthPath) == "" {
		opts.HealthPath = "/api/health"
	}
	m := &Monitor{
		opts:     opts,
		prober:   prober,
		tracker:  tracker,
		replayer: replayer,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		wake:     make(chan struct{}, 1),
		ctx:      context.Background(),
	}
	if opts.Netlink {
		m.watcher = newNetlinkWatcher(logger, m.Trigger)
	}
	if tracker != nil {
		tracker.OnConnectivityChange(m.onTransition)
	}
	return m
}

// Start begins the probe loop. Requests persisted by a previous run are
// replayed immediately when the backend is believed reachable.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	m.watcher.Start(runCtx)
	go m.loop(runCtx)
	if m.tracker == nil || m.tracker.Online() {
		m.replay()
	}
}

// Stop ends probing and waits for in-flight replays.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	m.watcher.Stop()
	cancel()
	m.wg.Wait()
}

// Trigger requests an immediate probe.
func (m *Monitor) Trigger(reason string) {
	m.logger.Debug("probe requested", logging.String("reason", reason))
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Probe checks the health endpoint once and updates the tracker. It reports
// whether the backend answered.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return false
	}
	_, err := m.prober.Send(ctx, http.MethodGet, m.opts.HealthPath, nil, &remote.Options{DisableOffline: true, Anonymous: true})
	reachable := err == nil
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		// any HTTP answer proves the network path works
		reachable = true
	}
	if reachable && m.tracker != nil {
		m.tracker.SetOnline(true)
	}
	if !reachable && err != nil {
		m.logger.Debug("backend probe failed", logging.Error(err))
	}
	return reachable
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tracker != nil && m.tracker.Online() {
				continue
			}
		case <-m.wake:
		}
		m.Probe(ctx)
	}
}

func (m *Monitor) onTransition(online bool) {
	if !online {
		m.Trigger("connectivity lost")
		return
	}
	m.replay()
}

func (m *Monitor) replay() {
	if m.replayer == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		result := m.replayer.OnConnectivityRestored(ctx)
		if result.Attempted > 0 {
			m.logger.Info("offline queue replayed",
				logging.Int("delivered", result.Delivered),
				logging.Int("retained", result.Retained),
				logging.Int("dead_lettered", result.DeadLettered),
			)
		}
	}()
}
