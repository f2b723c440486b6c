package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sightline/internal/capture"
	"sightline/internal/config"
	"sightline/internal/connectivity"
	"sightline/internal/logging"
	"sightline/internal/notifications"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
	"sightline/internal/status"
)

// Components are the services the daemon starts, stops, and exposes.
type Components struct {
	Scheduler    *scheduler.Scheduler
	Capture      *capture.Coordinator
	Content      *capture.ContentCache
	Events       *capture.Hub
	History      *capture.History
	Client       *remote.Client
	Publisher    *status.Publisher
	Connectivity *connectivity.Monitor
	Notifier     *notifications.Watcher
}

func (c Components) validate() error {
	var missing []string
	if c.Scheduler == nil {
		missing = append(missing, "scheduler")
	}
	if c.Capture == nil {
		missing = append(missing, "capture coordinator")
	}
	if c.Client == nil {
		missing = append(missing, "remote client")
	}
	if c.Publisher == nil {
		missing = append(missing, "status publisher")
	}
	if len(missing) > 0 {
		return fmt.Errorf("daemon requires %s", strings.Join(missing, ", "))
	}
	return nil
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	comps  Components
	logger *slog.Logger
	runID  string

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	RunID        string
	StorePath    string
	LockFilePath string
	APIAddress   string
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, comps Components, runID string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if err := comps.validate(); err != nil {
		return nil, err
	}
	if comps.Events == nil {
		comps.Events = capture.NewHub()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		comps:    comps,
		logger:   logger,
		runID:    runID,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches every service.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sightline daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.comps.Notifier != nil {
		d.comps.Notifier.Start(runCtx)
	}
	if err := d.comps.Scheduler.Start(runCtx); err != nil {
		if d.comps.Notifier != nil {
			d.comps.Notifier.Stop()
		}
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.comps.Publisher.Start(runCtx)
	if d.comps.Connectivity != nil {
		d.comps.Connectivity.Start(runCtx)
	}
	d.comps.Capture.Start(runCtx, d.comps.Events)
	if err := d.api.start(runCtx); err != nil {
		d.stopServicesLocked()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.comps.Publisher.Notify()
	d.logger.Info("sightline daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop shuts services down in reverse start order and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.stopServicesLocked()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("sightline daemon stopped")
}

func (d *Daemon) stopServicesLocked() {
	d.comps.Capture.Stop()
	if d.comps.Connectivity != nil {
		d.comps.Connectivity.Stop()
	}
	d.comps.Publisher.Stop()
	d.comps.Scheduler.Stop()
	if d.comps.Notifier != nil {
		d.comps.Notifier.Stop()
	}
}

// Running reports whether Start succeeded and Stop has not yet run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		RunID:        d.runID,
		StorePath:    d.cfg.StorePath(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
}

// Handler returns the HTTP handler serving the command surface.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}
