package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sightline/internal/logging"
	"sightline/internal/store"
)

const (
	queueKey          = "offline.queue"
	deadLetterKey     = "offline.dead_letter"
	defaultDeadLetter = 50
)

// Request is a not-yet-delivered outbound request. Identity is queue position only.
type Request struct {
	Method     string          `json:"method"`
	Endpoint   string          `json:"endpoint"`
	Body       json.RawMessage `json:"body,omitempty"`
	Options    Options         `json:"options"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DeadLetter is a queued request the backend rejected during replay.
type DeadLetter struct {
	Request  Request   `json:"request"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// replayer delivers one queued request with offline handling disabled.
type replayer interface {
	replay(ctx context.Context, req Request) error
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Skipped      bool `json:"skipped"`
	Attempted    int  `json:"attempted"`
	Delivered    int  `json:"delivered"`
	Retained     int  `json:"retained"`
	DeadLettered int  `json:"dead_lettered"`
}

// Queue is the durable FIFO of undelivered requests.
//
// While a replay pass runs, the persisted order is: requests that already
// failed this pass, then the not-yet-attempted remainder of the snapshot, then
// requests that arrived during the pass. That ordering is restored into the
// live queue when the pass ends, so delivery order always matches arrival order.
type Queue struct {
	mu sync.Mutex

	store  store.Store
	logger *slog.Logger
	sender replayer

	items     []Request
	failed    []Request
	remaining []Request
	replaying bool

	deadLetters   []DeadLetter
	maxDeadLetter int

	onChange func(depth int)
	now      func() time.Time
}

// NewQueue restores the persisted queue from st.
func NewQueue(ctx context.Context, st store.Store, logger *slog.Logger) (*Queue, error) {
	if st == nil {
		st = store.NewMemory()
	}
	q := &Queue{
		store:         st,
		logger:        logging.NewComponentLogger(logger, "offline-queue"),
		maxDeadLetter: defaultDeadLetter,
		now:           time.Now,
	}
	if _, err := store.GetJSON(ctx, st, queueKey, &q.items); err != nil {
		return nil, fmt.Errorf("restore offline queue: %w", err)
	}
	if _, err := store.GetJSON(ctx, st, deadLetterKey, &q.deadLetters); err != nil {
		return nil, fmt.Errorf("restore offline dead letters: %w", err)
	}
	if len(q.items) > 0 {
		q.logger.Info("offline queue restored", logging.Int("depth", len(q.items)))
	}
	return q, nil
}

func (q *Queue) setSender(s replayer) {
	q.mu.Lock()
	q.sender = s
	q.mu.Unlock()
}

// OnChange registers fn to be called with the queue depth after every mutation.
func (q *Queue) OnChange(fn func(depth int)) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Enqueue appends req and persists the queue before returning.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now().UTC()
	}
	req.Options.DisableOffline = false
	req.Options.Deferred = false

	q.mu.Lock()
	q.items = append(q.items, req)
	err := q.persistLocked(ctx)
	depth := q.depthLocked()
	fn := q.onChange
	q.mu.Unlock()

	q.logger.Info("request queued for later delivery",
		logging.String(logging.FieldEventType, "offline_enqueue"),
		logging.String("method", req.Method),
		logging.String("endpoint", req.Endpoint),
		logging.Int("depth", depth),
	)
	notify(fn, depth)
	return err
}

// Len reports the number of undelivered requests, including any in a running replay pass.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// Snapshot returns undelivered requests in delivery order.
func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.orderedLocked()
}

// DeadLetters returns requests the backend rejected during replay, oldest first.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

// Replaying reports whether a replay pass is in flight.
func (q *Queue) Replaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.replaying
}

// OnConnectivityRestored replays the queue. It is safe to call on every
// offline-to-online transition.
func (q *Queue) OnConnectivityRestored(ctx context.Context) ReplayResult {
	result, err := q.Replay(ctx)
	if err != nil {
		logging.WarnWithContext(q.logger, "offline replay incomplete", "offline_replay_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remaining requests replay on the next connectivity change"),
			logging.String(logging.FieldImpact, "queued requests are delayed"),
		)
	}
	return result
}

// Replay snapshots the queue and attempts each request in order. A call made
// while a pass is already running returns immediately with Skipped set.
// Unavailable requests are retained in order; rejected requests go to the
// dead-letter list; connectivity loss ends the pass and keeps the remainder.
func (q *Queue) Replay(ctx context.Context) (ReplayResult, error) {
	q.mu.Lock()
	if q.replaying {
		q.mu.Unlock()
		return ReplayResult{Skipped: true}, nil
	}
	if q.sender == nil {
		q.mu.Unlock()
		return ReplayResult{}, errors.New("offline queue has no sender")
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return ReplayResult{}, nil
	}
	q.replaying = true
	q.remaining = q.items
	q.items = nil
	q.failed = nil
	sender := q.sender
	q.mu.Unlock()

	var (
		result  ReplayResult
		stopErr error
	)
	q.logger.Info("offline replay started",
		logging.String(logging.FieldEventType, "offline_replay_start"),
		logging.Int("depth", q.Len()),
	)

	for {
		q.mu.Lock()
		if len(q.remaining) == 0 {
			q.mu.Unlock()
			break
		}
		req := q.remaining[0]
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		result.Attempted++
		err := sender.replay(ctx, req)

		q.mu.Lock()
		q.remaining = q.remaining[1:]
		switch kind := Classify(err); {
		case err == nil:
			result.Delivered++
		case kind == KindBackendRejected:
			result.DeadLettered++
			q.deadLetterLocked(req, err)
		case kind == KindConnectivityLost, kind == KindAuthenticationFailed, kind == KindCancelled:
			q.failed = append(q.failed, req)
			stopErr = err
		default:
			q.failed = append(q.failed, req)
		}
		persistErr := q.persistLocked(ctx)
		fn := q.onChange
		depth := q.depthLocked()
		q.mu.Unlock()

		if persistErr != nil {
			q.logger.Error("offline queue persistence failed", logging.Error(persistErr))
		}
		notify(fn, depth)
		if stopErr != nil {
			break
		}
	}

	q.mu.Lock()
	ordered := q.orderedLocked()
	q.items = ordered
	q.failed = nil
	q.remaining = nil
	q.replaying = false
	result.Retained = len(ordered)
	persistErr := q.persistLocked(context.WithoutCancel(ctx))
	fn := q.onChange
	q.mu.Unlock()
	notify(fn, result.Retained)

	q.logger.Info("offline replay finished",
		logging.String(logging.FieldEventType, "offline_replay_done"),
		logging.Int("attempted", result.Attempted),
		logging.Int("delivered", result.Delivered),
		logging.Int("retained", result.Retained),
		logging.Int("dead_lettered", result.DeadLettered),
	)
	if stopErr != nil {
		return result, stopErr
	}
	return result, persistErr
}

func (q *Queue) deadLetterLocked(req Request, err error) {
	q.deadLetters = append(q.deadLetters, DeadLetter{Request: req, Error: err.Error(), FailedAt: q.now().UTC()})
	if over := len(q.deadLetters) - q.maxDeadLetter; over > 0 {
		q.deadLetters = append([]DeadLetter(nil), q.deadLetters[over:]...)
	}
	logging.WarnWithContext(q.logger, "queued request rejected by backend", "offline_dead_letter",
		logging.String("method", req.Method),
		logging.String("endpoint", req.Endpoint),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect with 'sightline offline list'"),
		logging.String(logging.FieldImpact, "the request will not be retried"),
	)
}

func (q *Queue) orderedLocked() []Request {
	out := make([]Request, 0, q.depthLocked())
	out = append(out, q.failed...)
	out = append(out, q.remaining...)
	out = append(out, q.items...)
	return out
}

func (q *Queue) depthLocked() int {
	return len(q.failed) + len(q.remaining) + len(q.items)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if err := store.SetJSON(ctx, q.store, queueKey, q.orderedLocked()); err != nil {
		return err
	}
	if err := store.SetJSON(ctx, q.store, deadLetterKey, q.deadLetters); err != nil {
		return err
	}
	return nil
}

func notify(fn func(int), depth int) {
	if fn != nil {
		fn(depth)
	}
}
