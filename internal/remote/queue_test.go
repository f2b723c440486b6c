package remote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"sightline/internal/store"
)

type scriptedSender struct {
	mu        sync.Mutex
	delivered []string
	results   map[string][]error
	block     chan struct{}
	started   chan struct{}
}

func (s *scriptedSender) replay(_ context.Context, req Request) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if queue := s.results[req.Endpoint]; len(queue) > 0 {
		err := queue[0]
		s.results[req.Endpoint] = queue[1:]
		if err != nil {
			return err
		}
	}
	s.delivered = append(s.delivered, req.Endpoint)
	return nil
}

func newTestQueue(t *testing.T, st store.Store) *Queue {
	t.Helper()
	q, err := NewQueue(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("NewQueue returned error: %v", err)
	}
	return q
}

func enqueueAll(t *testing.T, q *Queue, endpoints ...string) {
	t.Helper()
	for _, ep := range endpoints {
		if err := q.Enqueue(context.Background(), Request{Method: http.MethodPost, Endpoint: ep}); err != nil {
			t.Fatalf("Enqueue(%s) returned error: %v", ep, err)
		}
	}
}

func endpoints(reqs []Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Endpoint)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReplayDeliversInInsertionOrder(t *testing.T) {
	q := newTestQueue(t, store.NewMemory())
	sender := &scriptedSender{}
	q.setSender(sender)

	want := []string{"/1", "/2", "/3", "/4", "/5"}
	enqueueAll(t, q, want...)

	result, err := q.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if result.Delivered != len(want) || result.Retained != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !equal(sender.delivered, want) {
		t.Fatalf("delivery order %v, want %v", sender.delivered, want)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	first := newTestQueue(t, st)
	enqueueAll(t, first, "/a", "/b")

	second := newTestQueue(t, st)
	if got := endpoints(second.Snapshot()); !equal(got, []string{"/a", "/b"}) {
		t.Fatalf("restored queue %v", got)
	}
	sender := &scriptedSender{}
	second.setSender(sender)
	second.OnConnectivityRestored(context.Background())
	if !equal(sender.delivered, []string{"/a", "/b"}) {
		t.Fatalf("restored queue delivered %v", sender.delivered)
	}
}

func TestReplayWhileReplayingIsNoop(t *testing.T) {
	q := newTestQueue(t, store.NewMemory())
	sender := &scriptedSender{block: make(chan struct{}), started: make(chan struct{}, 4)}
	q.setSender(sender)
	enqueueAll(t, q, "/only")

	done := make(chan ReplayResult, 1)
	go func() {
		result, _ := q.Replay(context.Background())
		done <- result
	}()
	<-sender.started

	second, err := q.Replay(context.Background())
	if err != nil {
		t.Fatalf("second Replay returned error: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("expected concurrent replay to be skipped, got %+v", second)
	}
	if !q.Replaying() {
		t.Fatal("expected first replay still in flight")
	}
	if q.Len() != 1 {
		t.Fatalf("in-flight request must still count toward depth, got %d", q.Len())
	}

	close(sender.block)
	first := <-done
	if first.Delivered != 1 {
		t.Fatalf("expected first replay to deliver, got %+v", first)
	}
	if len(sender.delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %v", sender.delivered)
	}
}

func TestFailedReplayStaysAheadOfNewArrivals(t *testing.T) {
	st := store.NewMemory()
	q := newTestQueue(t, st)
	unavailable := errors.New("wrapped")
	sender := &scriptedSender{
		results: map[string][]error{
			"/2": {Wrap(ErrBackendUnavailable, "replay", "503", unavailable)},
		},
		block:   make(chan struct{}),
		started: make(chan struct{}, 8),
	}
	q.setSender(sender)
	enqueueAll(t, q, "/1", "/2", "/3")

	done := make(chan ReplayResult, 1)
	go func() {
		result, _ := q.Replay(context.Background())
		done <- result
	}()

	<-sender.started
	enqueueAll(t, q, "/new")
	sender.block <- struct{}{}
	<-sender.started
	sender.block <- struct{}{}
	<-sender.started
	sender.block <- struct{}{}
	result := <-done

	if result.Delivered != 2 || result.Retained != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := endpoints(q.Snapshot()); !equal(got, []string{"/2", "/new"}) {
		t.Fatalf("queue order after partial failure %v", got)
	}

	restored := newTestQueue(t, st)
	if got := endpoints(restored.Snapshot()); !equal(got, []string{"/2", "/new"}) {
		t.Fatalf("persisted order after partial failure %v", got)
	}
}

func TestConnectivityLossStopsPass(t *testing.T) {
	q := newTestQueue(t, store.NewMemory())
	sender := &scriptedSender{
		results: map[string][]error{
			"/2": {Wrap(ErrConnectivityLost, "replay", "", errors.New("dial tcp: refused"))},
		},
	}
	q.setSender(sender)
	enqueueAll(t, q, "/1", "/2", "/3")

	result, err := q.Replay(context.Background())
	if !errors.Is(err, ErrConnectivityLost) {
		t.Fatalf("expected ErrConnectivityLost, got %v", err)
	}
	if result.Attempted != 2 || result.Delivered != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := endpoints(q.Snapshot()); !equal(got, []string{"/2", "/3"}) {
		t.Fatalf("expected remainder retained in order, got %v", got)
	}
}

func TestRejectedReplayIsDeadLettered(t *testing.T) {
	st := store.NewMemory()
	q := newTestQueue(t, st)
	sender := &scriptedSender{
		results: map[string][]error{
			"/bad": {&StatusError{Method: http.MethodPost, Endpoint: "/bad", StatusCode: http.StatusUnprocessableEntity}},
		},
	}
	q.setSender(sender)
	enqueueAll(t, q, "/bad", "/good")

	result, err := q.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if result.DeadLettered != 1 || result.Delivered != 1 || result.Retained != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	letters := q.DeadLetters()
	if len(letters) != 1 || letters[0].Request.Endpoint != "/bad" {
		t.Fatalf("unexpected dead letters %+v", letters)
	}
	restored := newTestQueue(t, st)
	if len(restored.DeadLetters()) != 1 {
		t.Fatal("expected dead letters persisted")
	}
}

func TestDuplicateRequestsAreBothReplayed(t *testing.T) {
	q := newTestQueue(t, store.NewMemory())
	sender := &scriptedSender{}
	q.setSender(sender)
	enqueueAll(t, q, "/same", "/same")

	if _, err := q.Replay(context.Background()); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if len(sender.delivered) != 2 {
		t.Fatalf("expected at-least-once delivery of both copies, got %v", sender.delivered)
	}
}

func TestEveryMutationPersists(t *testing.T) {
	st := store.NewMemory()
	q := newTestQueue(t, st)
	q.setSender(&scriptedSender{})
	enqueueAll(t, q, "/1", "/2")
	before := st.Writes()
	if _, err := q.Replay(context.Background()); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	// two deliveries plus the final fold, each writing queue and dead-letter keys
	if got := st.Writes() - before; got != 6 {
		t.Fatalf("expected 6 store writes during replay, got %d", got)
	}
}
