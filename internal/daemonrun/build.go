package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"sightline/internal/backend"
	"sightline/internal/capture"
	"sightline/internal/config"
	"sightline/internal/connectivity"
	"sightline/internal/credentials"
	"sightline/internal/daemon"
	"sightline/internal/logging"
	"sightline/internal/notifications"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
	"sightline/internal/status"
	"sightline/internal/store"
)

// Runtime is a fully wired daemon and the resources it owns.
type Runtime struct {
	Daemon    *daemon.Daemon
	Store     *store.SQLite
	Client    *remote.Client
	Scheduler *scheduler.Scheduler
	Capture   *capture.Coordinator
	Publisher *status.Publisher
}

// Close releases the state store. Stop the daemon first.
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Build opens the state store and constructs every component from cfg
// without starting anything.
func Build(ctx context.Context, cfg *config.Config, runID string, doer remote.HTTPDoer, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if doer == nil {
		doer = &http.Client{}
	}

	st, err := store.Open(ctx, cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	rt := &Runtime{Store: st}
	fail := func(err error) (*Runtime, error) {
		_ = st.Close()
		return nil, err
	}

	queue, err := remote.NewQueue(ctx, st, logger)
	if err != nil {
		return fail(fmt.Errorf("restore offline queue: %w", err))
	}
	client := remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.RequestTimeout(),
	}, doer, CredentialProvider(cfg, doer, logger), queue, logger)
	rt.Client = client

	adapter := backend.New(client, backend.Paths{
		Analysis: cfg.Backend.AnalysisPath,
		Capture:  cfg.Backend.CapturePath,
	})

	sched, err := scheduler.New(ctx, scheduler.Options{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		PollInterval:  cfg.PollInterval(),
		Retention:     cfg.Retention(),
		MaxBatchSize:  cfg.Scheduler.MaxBatchSize,
	}, adapter, client, st, logger)
	if err != nil {
		return fail(err)
	}
	rt.Scheduler = sched

	history, err := capture.NewHistory(ctx, st, cfg.Capture.HistoryLimit)
	if err != nil {
		return fail(err)
	}
	tabs := capture.NewTabs()
	content := capture.NewContentCache(tabs)
	events := capture.NewHub()
	coordinator := capture.NewCoordinator(capture.Options{
		AutoCapture:         cfg.Capture.AutoCapture,
		Dwell:               cfg.DwellTime(),
		Filter:              capture.DomainFilter{Allow: cfg.Capture.AllowDomains, Deny: cfg.Capture.DenyDomains},
		AnalyzeAfterCapture: cfg.Capture.AnalyzeAfterCapture,
	}, capture.Dependencies{
		Tabs:      tabs,
		Extractor: content,
		Submitter: adapter,
		Analyzer:  sched,
		History:   history,
	}, logger)
	rt.Capture = coordinator

	publisher := status.NewPublisher(cfg.StatusThrottle(), func() status.Snapshot {
		return status.Snapshot{
			Counts:       sched.Counts(),
			Online:       client.Online(),
			OfflineDepth: queue.Len(),
		}
	}, logger)
	rt.Publisher = publisher
	sched.OnChange(publisher.Notify)
	queue.OnChange(func(int) { publisher.Notify() })
	client.OnConnectivityChange(func(bool) { publisher.Notify() })

	notifier := notifications.NewWatcher(notifications.NewService(cfg), notifications.WatcherOptions{
		Connectivity: cfg.Notifications.Connectivity,
	}, logger)
	notifier.Observe(sched, client, queue)

	monitor := connectivity.New(connectivity.Options{
		HealthPath: cfg.Backend.HealthPath,
		Interval:   cfg.ProbeInterval(),
		Netlink:    cfg.Connectivity.NetlinkEnabled,
	}, client, client, queue, logger)

	d, err := daemon.New(cfg, daemon.Components{
		Scheduler:    sched,
		Capture:      coordinator,
		Content:      content,
		Events:       events,
		History:      history,
		Client:       client,
		Publisher:    publisher,
		Connectivity: monitor,
		Notifier:     notifier,
	}, runID, logger)
	if err != nil {
		return fail(fmt.Errorf("create daemon: %w", err))
	}
	rt.Daemon = d
	return rt, nil
}

// CredentialProvider returns nil when neither a credentials file nor a static
// token is configured, so requests go out unauthenticated.
func CredentialProvider(cfg *config.Config, doer remote.HTTPDoer, logger *slog.Logger) remote.CredentialProvider {
	if strings.TrimSpace(cfg.Auth.CredentialsFile) == "" && strings.TrimSpace(cfg.Auth.Token) == "" {
		return nil
	}
	refreshURL := ""
	if strings.TrimSpace(cfg.Auth.RefreshPath) != "" {
		refreshURL = cfg.BackendURL(cfg.Auth.RefreshPath)
	}
	return credentials.NewFileProvider(credentials.Config{
		Path:        cfg.Auth.CredentialsFile,
		StaticToken: cfg.Auth.Token,
		RefreshURL:  refreshURL,
	}, doer, logger)
}
