package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sightline/internal/logging"
	"sightline/internal/remote"
	"sightline/internal/scheduler"
)

// TaskSource exposes scheduler state. *scheduler.Scheduler satisfies it.
// Snapshot returns tasks and batches read together so batch members are
// always present in the task list.
type TaskSource interface {
	Snapshot() ([]scheduler.Task, []scheduler.Batch)
	OnChange(fn func())
}

var _ TaskSource = (*scheduler.Scheduler)(nil)

// ConnectivitySource reports backend reachability transitions. *remote.Client satisfies it.
type ConnectivitySource interface {
	OnConnectivityChange(fn func(online bool))
}

// OfflineQueue exposes offline queue depth and rejected requests. *remote.Queue satisfies it.
type OfflineQueue interface {
	Len() int
	DeadLetters() []remote.DeadLetter
	OnChange(fn func(depth int))
}

// WatcherOptions selects which milestones are published.
type WatcherOptions struct {
	Connectivity bool
}

// Watcher turns scheduler, queue, and connectivity changes into notifications.
// Callbacks only mark the watcher dirty; publishing happens on its own goroutine.
type Watcher struct {
	svc    Service
	opts   WatcherOptions
	logger *slog.Logger

	tasks TaskSource
	queue OfflineQueue

	dirty  chan struct{}
	events chan connectivityEvent

	mu       sync.Mutex
	seen     map[string]struct{}
	batches  map[string]struct{}
	lastDead time.Time
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type connectivityEvent struct {
	online bool
	depth  int
}

const eventBuffer = 8

// NewWatcher constructs a Watcher publishing through svc.
func NewWatcher(svc Service, opts WatcherOptions, logger *slog.Logger) *Watcher {
	if svc == nil {
		svc = noopService{}
	}
	return &Watcher{
		svc:     svc,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "notifications"),
		dirty:   make(chan struct{}, 1),
		events:  make(chan connectivityEvent, eventBuffer),
		seen:    make(map[string]struct{}),
		batches: make(map[string]struct{}),
	}
}

// Observe registers the watcher's callbacks. A nil interface value skips that
// source; pass a literal nil rather than a typed nil pointer.
func (w *Watcher) Observe(tasks TaskSource, conn ConnectivitySource, queue OfflineQueue) {
	w.mu.Lock()
	w.tasks = tasks
	w.queue = queue
	w.mu.Unlock()

	if tasks != nil {
		tasks.OnChange(w.markDirty)
	}
	if queue != nil {
		queue.OnChange(func(int) { w.markDirty() })
	}
	if conn != nil && w.opts.Connectivity {
		conn.OnConnectivityChange(w.connectivityChanged)
	}
}

func (w *Watcher) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *Watcher) connectivityChanged(online bool) {
	ev := connectivityEvent{online: online}
	w.mu.Lock()
	queue := w.queue
	w.mu.Unlock()
	if queue != nil {
		ev.depth = queue.Len()
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Debug("connectivity notification dropped", logging.Bool("online", online))
	}
}

// Start records the current state as already notified and begins publishing.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.scan(ctx, false)

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(runCtx)
}

// Stop halts publishing and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.dirty:
			w.scan(ctx, true)
		case ev := <-w.events:
			if ev.online {
				w.publish(ctx, EventConnectivityRestored, Payload{"queued": ev.depth})
			} else {
				w.publish(ctx, EventConnectivityLost, Payload{"queued": ev.depth})
			}
		}
	}
}

// scan diffs scheduler and queue state against what was already seen. With
// publish unset it only records the baseline.
func (w *Watcher) scan(ctx context.Context, publish bool) {
	w.mu.Lock()
	tasks, queue := w.tasks, w.queue
	w.mu.Unlock()

	var pending []func()
	if tasks != nil {
		list, batches := tasks.Snapshot()
		pending = append(pending, w.scanTasks(ctx, list, batches, publish)...)
	}
	if queue != nil {
		if n := w.scanDeadLetters(queue.DeadLetters()); n > 0 && publish {
			pending = append(pending, func() {
				w.publish(ctx, EventRequestsRejected, Payload{"count": n})
			})
		}
	}
	if !publish {
		return
	}
	for _, fn := range pending {
		fn()
	}
}

// scanTasks aggregates batches from their member lists, not Task.BatchID, so a
// task reused from an earlier batch counts toward every batch that holds it.
func (w *Watcher) scanTasks(ctx context.Context, tasks []scheduler.Task, batches []scheduler.Batch, publish bool) []func() {
	byID := make(map[string]scheduler.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	members := make(map[string]struct{})
	for _, b := range batches {
		for _, id := range b.TaskIDs {
			members[id] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(tasks))
	var pending []func()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range tasks {
		if !t.Terminal() {
			continue
		}
		seen[t.ID] = struct{}{}
		if _, already := w.seen[t.ID]; already {
			continue
		}
		_, inBatch := members[t.ID]
		if publish && !inBatch && t.Status == scheduler.StatusError && !t.Cancelled {
			task := t
			pending = append(pending, func() {
				w.publish(ctx, EventTaskFailed, Payload{
					"taskId": task.ID,
					"url":    task.URL,
					"error":  task.LastError,
				})
			})
		}
	}
	w.seen = seen

	notified := make(map[string]struct{}, len(batches))
	for _, b := range batches {
		total, failed, active := 0, 0, false
		for _, id := range b.TaskIDs {
			t, ok := byID[id]
			if !ok {
				continue
			}
			total++
			if t.Status == scheduler.StatusError {
				failed++
			}
			if t.Active() {
				active = true
			}
		}
		if active || total == 0 {
			continue
		}
		notified[b.ID] = struct{}{}
		if _, already := w.batches[b.ID]; already || !publish {
			continue
		}
		batchID := b.ID
		pending = append(pending, func() {
			w.publish(ctx, EventBatchCompleted, Payload{
				"batchId": batchID,
				"total":   total,
				"failed":  failed,
			})
		})
	}
	w.batches = notified
	return pending
}

func (w *Watcher) scanDeadLetters(letters []remote.DeadLetter) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fresh := 0
	latest := w.lastDead
	for _, dl := range letters {
		if dl.FailedAt.After(w.lastDead) {
			fresh++
		}
		if dl.FailedAt.After(latest) {
			latest = dl.FailedAt
		}
	}
	w.lastDead = latest
	return fresh
}

func (w *Watcher) publish(ctx context.Context, event Event, payload Payload) {
	if err := w.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(w.logger, "notification not delivered", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access to the ntfy server"),
		)
		return
	}
	w.logger.Debug("notification sent", logging.String("event", string(event)))
}
