package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sightline/internal/logging"
	"sightline/internal/remote"
	"sightline/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	submits   []string
	submitErr func(url string, attempt int) error
	states    map[string]JobState
	statusErr error
	jobs      int
	onSubmit  func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{states: make(map[string]JobState)}
}

func (f *fakeBackend) SubmitAnalysis(_ context.Context, _ string, url string, _ map[string]string) (string, error) {
	f.mu.Lock()
	f.submits = append(f.submits, url)
	attempt := 0
	for _, u := range f.submits {
		if u == url {
			attempt++
		}
	}
	hook := f.onSubmit
	errFn := f.submitErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if errFn != nil {
		if err := errFn(url, attempt); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs++
	id := fmt.Sprintf("job-%d", f.jobs)
	f.states[id] = JobState{Status: "processing"}
	return id, nil
}

func (f *fakeBackend) JobStatus(_ context.Context, jobID string) (JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return JobState{}, f.statusErr
	}
	return f.states[jobID], nil
}

func (f *fakeBackend) set(jobID string, state JobState) {
	f.mu.Lock()
	f.states[jobID] = state
	f.mu.Unlock()
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type fakeConn struct {
	mu     sync.Mutex
	online bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, opts Options, backend Backend, st store.Store) *Scheduler {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	s, err := New(context.Background(), opts, backend, nil, st, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustQueue(t *testing.T, s *Scheduler, url string) string {
	t.Helper()
	id, err := s.QueueURL(context.Background(), url, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueURL(%s): %v", url, err)
	}
	return id
}

func statusOf(t *testing.T, s *Scheduler, id string) Task {
	t.Helper()
	task, err := s.TaskStatus(id)
	if err != nil {
		t.Fatalf("TaskStatus(%s): %v", id, err)
	}
	return task
}

func inFlightCount(s *Scheduler) int {
	counts := s.Counts()
	return counts.Processing + counts.Analyzing
}

func TestMaxConcurrentAdmission(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{MaxConcurrent: 2}, backend, nil)
	ctx := context.Background()

	a := mustQueue(t, s, "https://example.com/a")
	b := mustQueue(t, s, "https://example.com/b")
	c := mustQueue(t, s, "https://example.com/c")

	s.RunOnce(ctx)
	if got := inFlightCount(s); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}
	if statusOf(t, s, c).Status != StatusPending {
		t.Fatalf("expected third task to remain pending")
	}

	first := statusOf(t, s, a)
	backend.set(first.JobID, JobState{Status: "complete"})
	s.RunOnce(ctx)
	if got := statusOf(t, s, a).Status; got != StatusComplete {
		t.Fatalf("expected first task complete, got %s", got)
	}
	if got := inFlightCount(s); got > 2 {
		t.Fatalf("in-flight limit exceeded: %d", got)
	}

	s.RunOnce(ctx)
	if got := statusOf(t, s, c).Status; got != StatusProcessing {
		t.Fatalf("expected third task admitted after a slot freed, got %s", got)
	}
	if got := statusOf(t, s, b).Status; got != StatusProcessing {
		t.Fatalf("expected second task still processing, got %s", got)
	}
	if got := inFlightCount(s); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{}, backend, nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/page")

	s.RunOnce(ctx)
	task := statusOf(t, s, id)
	if task.Status != StatusProcessing || task.JobID == "" {
		t.Fatalf("expected processing with job id, got %+v", task)
	}

	backend.set(task.JobID, JobState{Status: "analyzing"})
	s.RunOnce(ctx)
	if got := statusOf(t, s, id).Status; got != StatusAnalyzing {
		t.Fatalf("expected analyzing, got %s", got)
	}

	backend.set(task.JobID, JobState{Status: "done", Result: []byte(`{"score":1}`)})
	s.RunOnce(ctx)
	task = statusOf(t, s, id)
	if task.Status != StatusComplete || task.CompletedAt == nil {
		t.Fatalf("expected complete with timestamp, got %+v", task)
	}
	if string(task.Result) != `{"score":1}` {
		t.Fatalf("unexpected result %s", task.Result)
	}
	if len(s.ActiveTasks()) != 0 {
		t.Fatalf("expected no active tasks")
	}
}

func TestAttemptsNeverExceedMaxRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = func(string, int) error {
		return &remote.StatusError{Method: "POST", Endpoint: "/api/analysis", StatusCode: 503}
	}
	s := newTestScheduler(t, Options{MaxRetries: 2}, backend, nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/flaky")

	for i := 0; i < 10; i++ {
		s.RunOnce(ctx)
		if got := statusOf(t, s, id).Attempts; got > 2 {
			t.Fatalf("attempts exceeded max retries: %d", got)
		}
	}
	task := statusOf(t, s, id)
	if task.Status != StatusError || !task.Exhausted {
		t.Fatalf("expected exhausted error, got %+v", task)
	}
	if task.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", task.Attempts)
	}
	if task.ErrorKind != remote.KindBackendUnavailable {
		t.Fatalf("unexpected error kind %s", task.ErrorKind)
	}
	if got := backend.submitCount(); got != 3 {
		t.Fatalf("expected 3 submissions, got %d", got)
	}
}

func TestBackendJobFailureRetries(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{MaxRetries: 1}, backend, nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/job")

	s.RunOnce(ctx)
	backend.set(statusOf(t, s, id).JobID, JobState{Status: "failed", Error: "parser crashed"})
	s.RunOnce(ctx)
	task := statusOf(t, s, id)
	if task.Status == StatusError {
		t.Fatalf("expected retry after first job failure, got %+v", task)
	}
	if task.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", task.Attempts)
	}

	s.RunOnce(ctx)
	backend.set(statusOf(t, s, id).JobID, JobState{Status: "failed"})
	s.RunOnce(ctx)
	task = statusOf(t, s, id)
	if task.Status != StatusError || !task.Exhausted || task.ErrorKind != KindJobFailed {
		t.Fatalf("expected exhausted job failure, got %+v", task)
	}
}

func TestRejectedIsTerminal(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = func(string, int) error {
		return &remote.StatusError{Method: "POST", Endpoint: "/api/analysis", StatusCode: 422}
	}
	s := newTestScheduler(t, Options{MaxRetries: 3}, backend, nil)
	id := mustQueue(t, s, "https://example.com/bad")

	s.RunOnce(context.Background())
	task := statusOf(t, s, id)
	if task.Status != StatusError || task.Attempts != 0 || task.Exhausted {
		t.Fatalf("expected immediate terminal error, got %+v", task)
	}
	if task.ErrorKind != remote.KindBackendRejected {
		t.Fatalf("unexpected kind %s", task.ErrorKind)
	}
}

func TestConnectivityLossDoesNotCountAttempt(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = func(_ string, attempt int) error {
		if attempt == 1 {
			return remote.Wrap(remote.ErrConnectivityLost, "POST /api/analysis", "", errors.New("dial tcp: refused"))
		}
		return nil
	}
	s := newTestScheduler(t, Options{MaxRetries: 1}, backend, nil)
	id := mustQueue(t, s, "https://example.com/offline")

	s.RunOnce(context.Background())
	task := statusOf(t, s, id)
	if task.Status != StatusPending || task.Attempts != 0 {
		t.Fatalf("expected pending without attempt, got %+v", task)
	}

	s.RunOnce(context.Background())
	if got := statusOf(t, s, id).Status; got != StatusProcessing {
		t.Fatalf("expected processing after reconnect, got %s", got)
	}
}

func TestOfflineSkipsNetworkWork(t *testing.T) {
	backend := newFakeBackend()
	conn := &fakeConn{}
	s, err := New(context.Background(), Options{}, backend, conn, store.NewMemory(), logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := mustQueue(t, s, "https://example.com/x")

	s.RunOnce(context.Background())
	if backend.submitCount() != 0 {
		t.Fatalf("expected no submissions while offline")
	}
	conn.set(true)
	s.RunOnce(context.Background())
	if got := statusOf(t, s, id).Status; got != StatusProcessing {
		t.Fatalf("expected processing once online, got %s", got)
	}
}

func TestCancelPendingLeavesActiveSet(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/cancel")

	if !s.CancelTask(ctx, id) {
		t.Fatalf("expected cancel to succeed")
	}
	for _, task := range s.ActiveTasks() {
		if task.ID == id {
			t.Fatalf("cancelled task still active")
		}
	}
	task := statusOf(t, s, id)
	if task.Status != StatusError || !task.Cancelled {
		t.Fatalf("expected cancelled error, got %+v", task)
	}
	if s.CancelTask(ctx, id) {
		t.Fatalf("expected second cancel to be a no-op")
	}
	if s.CancelTask(ctx, "missing") {
		t.Fatalf("expected cancel of unknown task to fail")
	}
}

func TestCancelDuringSubmitDiscardsResult(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{}, backend, nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/race")
	backend.onSubmit = func() {
		s.CancelTask(ctx, id)
	}

	s.RunOnce(ctx)
	task := statusOf(t, s, id)
	if !task.Cancelled || task.Status != StatusError {
		t.Fatalf("expected cancel to win over submit result, got %+v", task)
	}
	if task.JobID != "" {
		t.Fatalf("expected stale job id discarded, got %s", task.JobID)
	}
}

func TestRetryResetsAttempts(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = func(string, int) error {
		return &remote.StatusError{Method: "POST", Endpoint: "/api/analysis", StatusCode: 500}
	}
	s := newTestScheduler(t, Options{MaxRetries: 1}, backend, nil)
	ctx := context.Background()
	id := mustQueue(t, s, "https://example.com/retry")

	s.RunOnce(ctx)
	s.RunOnce(ctx)
	if task := statusOf(t, s, id); task.Status != StatusError || task.Attempts != 1 {
		t.Fatalf("expected exhausted task, got %+v", task)
	}

	if !s.RetryTask(ctx, id) {
		t.Fatalf("expected retry to succeed")
	}
	task := statusOf(t, s, id)
	if task.Status != StatusPending || task.Attempts != 0 || task.Exhausted {
		t.Fatalf("expected reset pending task, got %+v", task)
	}
	if s.RetryTask(ctx, id) {
		t.Fatalf("expected retry on pending task to be a no-op")
	}
}

func TestQueueURLDeduplicatesActive(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	ctx := context.Background()
	first := mustQueue(t, s, "https://Example.com/page#section")
	second := mustQueue(t, s, "https://example.com/page")
	if first != second {
		t.Fatalf("expected same task id, got %s and %s", first, second)
	}
	third, err := s.QueueURL(ctx, "https://example.com/page", QueueOptions{AllowDuplicate: true})
	if err != nil {
		t.Fatalf("QueueURL: %v", err)
	}
	if third == first {
		t.Fatalf("expected a new task when duplicates are allowed")
	}
	if _, err := s.QueueURL(ctx, "chrome://settings", QueueOptions{}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestBatchStatusAggregation(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{MaxConcurrent: 4}, backend, nil)
	ctx := context.Background()

	batch, err := s.QueueBatch(ctx, []string{"https://a.test/1", "https://a.test/2", "https://a.test/1"}, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	if len(batch.TaskIDs) != 2 {
		t.Fatalf("expected duplicates collapsed, got %d members", len(batch.TaskIDs))
	}
	status, err := s.BatchStatus(batch.ID)
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if status.Status != StatusPending {
		t.Fatalf("expected pending batch, got %s", status.Status)
	}

	s.RunOnce(ctx)
	for _, id := range batch.TaskIDs {
		backend.set(statusOf(t, s, id).JobID, JobState{Status: "complete"})
	}
	s.RunOnce(ctx)
	status, _ = s.BatchStatus(batch.ID)
	if status.Status != StatusComplete || status.Counts.Complete != 2 {
		t.Fatalf("expected complete batch, got %+v", status)
	}

	other, err := s.QueueBatch(ctx, []string{"https://b.test/1", "https://b.test/2"}, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	s.CancelTask(ctx, other.TaskIDs[0])
	status, _ = s.BatchStatus(other.ID)
	if status.Status != StatusError {
		t.Fatalf("expected error batch, got %s", status.Status)
	}

	if _, err := s.BatchStatus("missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestSnapshotListsReusedBatchMembers(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	ctx := context.Background()

	first, err := s.QueueBatch(ctx, []string{"https://a.test/shared"}, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	second, err := s.QueueBatch(ctx, []string{"https://a.test/shared", "https://a.test/new"}, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	if second.TaskIDs[0] != first.TaskIDs[0] {
		t.Fatalf("expected active task reused, got %v and %v", first.TaskIDs, second.TaskIDs)
	}

	tasks, batches := s.Snapshot()
	if len(tasks) != 2 || len(batches) != 2 {
		t.Fatalf("expected 2 tasks and 2 batches, got %d and %d", len(tasks), len(batches))
	}
	var reused Batch
	for _, b := range batches {
		if b.ID == second.ID {
			reused = b
		}
	}
	if len(reused.TaskIDs) != 2 {
		t.Fatalf("unexpected second batch %+v", reused)
	}
	if statusOf(t, s, first.TaskIDs[0]).BatchID != first.ID {
		t.Fatalf("expected reused task to keep its original batch id")
	}
	if !reused.LastQueriedAt.IsZero() {
		t.Fatalf("expected Snapshot not to record a query")
	}
}

func TestQueueBatchLimits(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	urls := make([]string, 101)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	if _, err := s.QueueBatch(context.Background(), urls, QueueOptions{}); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if _, err := s.QueueBatch(context.Background(), []string{" "}, QueueOptions{}); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if got := len(s.Tasks()); got != 0 {
		t.Fatalf("expected rejected batches to create no tasks, got %d", got)
	}
}

func TestTaskNotFound(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	if _, err := s.TaskStatus("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if s.RetryTask(context.Background(), "nope") {
		t.Fatalf("expected retry of unknown task to fail")
	}
}

func TestRestoreRequeuesInterruptedTasks(t *testing.T) {
	st := store.NewMemory()
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{MaxConcurrent: 1}, backend, st)
	ctx := context.Background()
	submitted := mustQueue(t, s, "https://example.com/one")
	waiting := mustQueue(t, s, "https://example.com/two")
	s.RunOnce(ctx)

	// simulate a crash between admission and submission
	s.mu.Lock()
	s.tasks[waiting].Status = StatusProcessing
	if err := s.persistLocked(ctx); err != nil {
		s.mu.Unlock()
		t.Fatalf("persist: %v", err)
	}
	s.mu.Unlock()

	restored := newTestScheduler(t, Options{MaxConcurrent: 1}, backend, st)
	if got := statusOf(t, restored, submitted); got.Status != StatusProcessing || got.JobID == "" {
		t.Fatalf("expected submitted task to resume polling, got %+v", got)
	}
	if got := statusOf(t, restored, waiting).Status; got != StatusPending {
		t.Fatalf("expected interrupted task back to pending, got %s", got)
	}
	tasks := restored.Tasks()
	if len(tasks) != 2 || tasks[0].ID != submitted {
		t.Fatalf("expected arrival order preserved, got %+v", tasks)
	}
}

func TestPruneTerminalTasks(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{Retention: time.Minute}, backend, nil)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	done := mustQueue(t, s, "https://example.com/done")
	batch, err := s.QueueBatch(ctx, []string{"https://example.com/batched"}, QueueOptions{})
	if err != nil {
		t.Fatalf("QueueBatch: %v", err)
	}
	s.CancelTask(ctx, done)
	now = now.Add(30 * time.Second)
	s.CancelTask(ctx, batch.TaskIDs[0])

	now = now.Add(45 * time.Second)
	s.RunOnce(ctx)
	if _, err := s.TaskStatus(done); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected stale terminal task pruned, got %v", err)
	}
	if _, err := s.BatchStatus(batch.ID); err != nil {
		t.Fatalf("expected recent batch retained: %v", err)
	}

	now = now.Add(2 * time.Minute)
	s.RunOnce(ctx)
	if _, err := s.BatchStatus(batch.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected settled batch pruned, got %v", err)
	}
	if len(s.Tasks()) != 0 {
		t.Fatalf("expected all tasks pruned, got %d", len(s.Tasks()))
	}
}

func TestStartStop(t *testing.T) {
	backend := newFakeBackend()
	s := newTestScheduler(t, Options{PollInterval: 10 * time.Millisecond}, backend, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	id := mustQueue(t, s, "https://example.com/loop")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, _ := s.TaskStatus(id); task.JobID != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if task := statusOf(t, s, id); task.JobID == "" {
		t.Fatalf("expected loop to submit task, got %+v", task)
	}
	s.Stop()
}

func TestOnChangeNotifies(t *testing.T) {
	s := newTestScheduler(t, Options{}, newFakeBackend(), nil)
	var mu sync.Mutex
	calls := 0
	s.OnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	mustQueue(t, s, "https://example.com/notify")
	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatalf("expected change notification")
	}
}
