package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sightline/internal/logging"
	"sightline/internal/store"
)

// Backend submits analysis jobs and reports their state.
type Backend interface {
	SubmitAnalysis(ctx context.Context, taskID, url string, params map[string]string) (string, error)
	JobStatus(ctx context.Context, jobID string) (JobState, error)
}

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	Online() bool
}

// Options configures scheduling limits.
type Options struct {
	MaxConcurrent int
	MaxRetries    int
	PollInterval  time.Duration
	Retention     time.Duration
	MaxBatchSize  int
}

const (
	defaultMaxConcurrent = 2
	defaultMaxRetries    = 3
	defaultPollInterval  = 5 * time.Second
	defaultMaxBatchSize  = 100
)

// DefaultOptions returns the standard scheduling limits.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: defaultMaxConcurrent,
		MaxRetries:    defaultMaxRetries,
		PollInterval:  defaultPollInterval,
		MaxBatchSize:  defaultMaxBatchSize,
	}
}

func (o Options) normalized() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = defaultMaxConcurrent
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MaxBatchSize <= 0 || o.MaxBatchSize > defaultMaxBatchSize {
		o.MaxBatchSize = defaultMaxBatchSize
	}
	return o
}

// Scheduler owns analysis tasks and batches and drives the polling loop.
type Scheduler struct {
	opts    Options
	backend Backend
	conn    Connectivity
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	batches   map[string]*Batch
	listeners []func()

	wake    chan struct{}
	tickMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Scheduler and restores persisted state from st.
func New(ctx context.Context, opts Options, backend Backend, conn Connectivity, st store.Store, logger *slog.Logger) (*Scheduler, error) {
	if st == nil {
		st = store.NewMemory()
	}
	s := &Scheduler{
		opts:    opts.normalized(),
		backend: backend,
		conn:    conn,
		store:   st,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		now:     time.Now,
		tasks:   make(map[string]*Task),
		batches: make(map[string]*Batch),
		wake:    make(chan struct{}, 1),
	}
	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Options returns the effective scheduling limits.
func (s *Scheduler) Options() Options {
	return s.opts
}

// OnChange registers fn to run after every state mutation. fn must not block.
func (s *Scheduler) OnChange(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// QueueURL creates a pending task for rawURL and returns its id. When the URL
// already has an active task, that task's id is returned instead unless
// AllowDuplicate is set.
func (s *Scheduler) QueueURL(ctx context.Context, rawURL string, opts QueueOptions) (string, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if !opts.AllowDuplicate {
		if existing := s.activeByURLLocked(normalized); existing != nil {
			id := existing.ID
			s.mu.Unlock()
			s.logger.Debug("url already queued", logging.String(logging.FieldTaskID, id), logging.String("url", normalized))
			return id, nil
		}
	}
	task := s.newTaskLocked(normalized, opts.Params, "")
	persistErr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.logPersistError(persistErr)
	s.logger.Info("task queued",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("url", normalized),
		logging.String(logging.FieldEventType, "task_queued"),
	)
	s.changed()
	s.Wake()
	return task.ID, nil
}

// QueueBatch creates tasks for urls and groups them. Duplicate URLs within the
// batch collapse to one member; URLs with an existing active task reuse it.
func (s *Scheduler) QueueBatch(ctx context.Context, urls []string, opts QueueOptions) (Batch, error) {
	normalized := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		u, err := normalizeURL(raw)
		if err != nil {
			return Batch{}, err
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		normalized = append(normalized, u)
	}
	if len(normalized) == 0 {
		return Batch{}, ErrEmptyBatch
	}
	if len(normalized) > s.opts.MaxBatchSize {
		return Batch{}, fmt.Errorf("%w: %d urls exceeds limit of %d", ErrBatchTooLarge, len(normalized), s.opts.MaxBatchSize)
	}

	s.mu.Lock()
	batch := &Batch{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
	for _, u := range normalized {
		if !opts.AllowDuplicate {
			if existing := s.activeByURLLocked(u); existing != nil {
				batch.TaskIDs = append(batch.TaskIDs, existing.ID)
				continue
			}
		}
		task := s.newTaskLocked(u, opts.Params, batch.ID)
		batch.TaskIDs = append(batch.TaskIDs, task.ID)
	}
	s.batches[batch.ID] = batch
	persistErr := s.persistLocked(ctx)
	out := cloneBatch(batch)
	s.mu.Unlock()

	s.logPersistError(persistErr)
	s.logger.Info("batch queued",
		logging.String(logging.FieldBatchID, out.ID),
		logging.Int("tasks", len(out.TaskIDs)),
		logging.String(logging.FieldEventType, "batch_queued"),
	)
	s.changed()
	s.Wake()
	return out, nil
}

// ActiveTasks returns every non-terminal task in arrival order.
func (s *Scheduler) ActiveTasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil && t.Active() {
			out = append(out, t.clone())
		}
	}
	return out
}

// Tasks returns every retained task in arrival order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil {
			out = append(out, t.clone())
		}
	}
	return out
}

// Snapshot returns every retained task and batch taken under one lock. Batch
// membership comes from Batch.TaskIDs; a task reused by a later batch keeps
// the BatchID it was created with. Unlike BatchStatus it does not count as a
// query for retention.
func (s *Scheduler) Snapshot() ([]Task, []Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil {
			tasks = append(tasks, t.clone())
		}
	}
	batches := make([]Batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, cloneBatch(b))
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].CreatedAt.Before(batches[j].CreatedAt) })
	return tasks, batches
}

// TaskStatus returns the task with id and records the query for retention.
func (s *Scheduler) TaskStatus(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.LastQueriedAt = s.now().UTC()
	return t.clone(), nil
}

// BatchStatus derives the state of batch id from its members.
func (s *Scheduler) BatchStatus(id string) (BatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	if b == nil {
		return BatchStatus{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	now := s.now().UTC()
	b.LastQueriedAt = now
	status := BatchStatus{Batch: cloneBatch(b), Tasks: make([]Task, 0, len(b.TaskIDs))}
	for _, taskID := range b.TaskIDs {
		t := s.tasks[taskID]
		if t == nil {
			continue
		}
		t.LastQueriedAt = now
		status.Counts.add(t.Status)
		status.Tasks = append(status.Tasks, t.clone())
	}
	status.Status = deriveBatchStatus(status.Counts)
	return status, nil
}

// Counts returns task totals per status across retained tasks.
func (s *Scheduler) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts Counts
	for _, t := range s.tasks {
		counts.add(t.Status)
	}
	return counts
}

// CancelTask moves an active task to a terminal cancelled error. It returns
// false for unknown or already terminal tasks. A job already running on the
// backend is not stopped; the scheduler only stops tracking it.
func (s *Scheduler) CancelTask(ctx context.Context, id string) bool {
	s.mu.Lock()
	t := s.tasks[id]
	if t == nil || !t.Active() {
		s.mu.Unlock()
		return false
	}
	now := s.now().UTC()
	t.Status = StatusError
	t.Cancelled = true
	t.ErrorKind = kindCancelled
	t.LastError = "cancelled by user"
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.version++
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.logPersistError(err)
	s.logger.Info("task cancelled",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldEventType, "task_cancelled"),
	)
	s.changed()
	s.Wake()
	return true
}

// RetryTask resets an error task to pending with zero attempts. It returns
// false for unknown tasks and tasks not in error.
func (s *Scheduler) RetryTask(ctx context.Context, id string) bool {
	s.mu.Lock()
	t := s.tasks[id]
	if t == nil || t.Status != StatusError {
		s.mu.Unlock()
		return false
	}
	t.Status = StatusPending
	t.Attempts = 0
	t.JobID = ""
	t.Cancelled = false
	t.Exhausted = false
	t.ErrorKind = ""
	t.CompletedAt = nil
	t.Result = nil
	t.UpdatedAt = s.now().UTC()
	t.version++
	s.moveToBackLocked(id)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.logPersistError(err)
	s.logger.Info("task retry requested",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldEventType, "task_retry"),
	)
	s.changed()
	s.Wake()
	return true
}

// Wake asks the polling loop to run a tick without waiting for the interval.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) newTaskLocked(u string, params map[string]string, batchID string) *Task {
	now := s.now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		URL:       u,
		BatchID:   batchID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(params) > 0 {
		task.Params = make(map[string]string, len(params))
		for k, v := range params {
			task.Params[k] = v
		}
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return task
}

func (s *Scheduler) activeByURLLocked(u string) *Task {
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil && t.Active() && t.URL == u {
			return t
		}
	}
	return nil
}

// moveToBackLocked re-queues id behind tasks that arrived before the retry.
func (s *Scheduler) moveToBackLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, id)
}

func (s *Scheduler) changed() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (s *Scheduler) logPersistError(err error) {
	if err == nil {
		return
	}
	logging.ErrorWithContext(s.logger, "scheduler state not persisted", "scheduler_persist_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state database; state survives only in memory"),
	)
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidURL, raw)
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String(), nil
}

func cloneBatch(b *Batch) Batch {
	out := *b
	out.TaskIDs = append([]string(nil), b.TaskIDs...)
	return out
}
