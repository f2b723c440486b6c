package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"sightline/internal/logging"
)

// netlinkWatcher listens for network interface uevents and asks the monitor
// to probe when an interface appears or comes up.
type netlinkWatcher struct {
	logger  *slog.Logger
	trigger func(reason string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkWatcher(logger *slog.Logger, trigger func(reason string)) *netlinkWatcher {
	return &netlinkWatcher{
		logger:  logging.NewComponentLogger(logger, "netlink-watcher"),
		trigger: trigger,
	}
}

// Start connects to the kernel uevent socket. Failure is non-fatal: probing
// continues on the interval.
func (w *netlinkWatcher) Start(ctx context.Context) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; connectivity relies on interval probes",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "set connectivity.netlink_enabled = false to silence this warning"),
			logging.String(logging.FieldImpact, "reconnects are noticed on the next probe instead of immediately"),
		)
		return
	}
	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(ctx, conn, quit)
	w.logger.Info("netlink watcher started", logging.String(logging.FieldEventType, "netlink_watcher_started"))
}

// Stop closes the uevent socket.
func (w *netlinkWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

// Running reports whether the watcher holds an open socket.
func (w *netlinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *netlinkWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Warn("netlink watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_watcher_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "interface changes may go unnoticed until the next probe"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=net with ACTION add, change, move, or online.
// Rule fields are unanchored regular expressions; without anchors "remove"
// would match "move".
func buildMatcher() netlink.Matcher {
	action := "^(add|change|move|online)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^net$",
		},
	})
	return rules
}

func (w *netlinkWatcher) handleEvent(uevent netlink.UEvent) {
	iface := uevent.Env["INTERFACE"]
	if iface == "" || iface == "lo" {
		return
	}
	w.logger.Debug("network interface event",
		logging.String("interface", iface),
		logging.String("action", string(uevent.Action)),
	)
	if w.trigger != nil {
		w.trigger("netlink " + string(uevent.Action) + " " + iface)
	}
}
