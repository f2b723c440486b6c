package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"sightline/internal/logging"
	"sightline/internal/remote"
)

const kindCancelled = remote.KindCancelled

// Start begins the polling loop. It runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx)
	s.logger.Info("scheduler started",
		logging.Int("max_concurrent", s.opts.MaxConcurrent),
		logging.Duration("poll_interval", s.opts.PollInterval),
		logging.Int("max_retries", s.opts.MaxRetries),
	)
	return nil
}

// Stop terminates the polling loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.RunOnce(ctx)
	}
}

type dispatch struct {
	id      string
	version uint64
	url     string
	jobID   string
	params  map[string]string
}

// RunOnce performs one polling tick: admit pending tasks up to the concurrency
// limit, submit them, poll in-flight jobs, apply transitions, and prune.
// Ticks never overlap.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	online := s.conn == nil || s.conn.Online()
	if online {
		for _, d := range s.admit(ctx) {
			jobID, err := s.backend.SubmitAnalysis(logging.WithTaskID(ctx, d.id), d.id, d.url, d.params)
			s.applySubmit(ctx, d, jobID, err)
		}
		for _, d := range s.inFlight() {
			state, err := s.backend.JobStatus(logging.WithTaskID(ctx, d.id), d.jobID)
			s.applyJobState(ctx, d, state, err)
		}
	}
	s.prune(ctx)
}

// admit moves pending tasks into processing while slots are free.
func (s *Scheduler) admit(ctx context.Context) []dispatch {
	s.mu.Lock()
	slots := s.opts.MaxConcurrent
	for _, t := range s.tasks {
		if t.InFlight() {
			slots--
		}
	}
	var admitted []dispatch
	now := s.now().UTC()
	for _, id := range s.order {
		if slots <= 0 {
			break
		}
		t := s.tasks[id]
		if t == nil || t.Status != StatusPending {
			continue
		}
		t.Status = StatusProcessing
		t.UpdatedAt = now
		t.version++
		slots--
		admitted = append(admitted, dispatch{id: t.ID, version: t.version, url: t.URL, params: t.clone().Params})
	}
	var err error
	if len(admitted) > 0 {
		err = s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.logPersistError(err)
	for _, d := range admitted {
		s.logger.Info("task admitted",
			logging.String(logging.FieldTaskID, d.id),
			logging.String(logging.FieldEventType, "task_admitted"),
		)
	}
	if len(admitted) > 0 {
		s.changed()
	}
	return admitted
}

func (s *Scheduler) inFlight() []dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispatch
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil || !t.InFlight() || t.JobID == "" {
			continue
		}
		out = append(out, dispatch{id: t.ID, version: t.version, jobID: t.JobID})
	}
	return out
}

func (s *Scheduler) applySubmit(ctx context.Context, d dispatch, jobID string, err error) {
	s.mu.Lock()
	t := s.tasks[d.id]
	if t == nil || t.version != d.version {
		s.mu.Unlock()
		s.logger.Debug("discarding stale submit result", logging.String(logging.FieldTaskID, d.id))
		return
	}
	if err == nil && strings.TrimSpace(jobID) == "" {
		err = remote.Wrap(remote.ErrBackendUnavailable, "submit analysis", "backend returned no job id", nil)
	}
	if err != nil {
		s.failLocked(t, err)
	} else {
		t.JobID = jobID
		t.UpdatedAt = s.now().UTC()
		t.version++
	}
	persistErr := s.persistLocked(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.logPersistError(persistErr)
	s.changed()
}

func (s *Scheduler) applyJobState(ctx context.Context, d dispatch, state JobState, err error) {
	s.mu.Lock()
	t := s.tasks[d.id]
	if t == nil || t.version != d.version {
		s.mu.Unlock()
		return
	}
	before := t.Status
	switch {
	case err != nil && remote.Classify(err) == remote.KindConnectivityLost:
		// try again next tick once connectivity is back
		s.mu.Unlock()
		return
	case err != nil:
		s.failLocked(t, err)
	default:
		switch next := mapJobStatus(state.Status); next {
		case StatusAnalyzing:
			if t.Status == StatusProcessing {
				t.Status = StatusAnalyzing
				t.version++
			}
		case StatusComplete:
			now := s.now().UTC()
			t.Status = StatusComplete
			t.CompletedAt = &now
			t.LastError = ""
			t.ErrorKind = ""
			t.Result = state.Result
			t.version++
		case StatusError:
			msg := strings.TrimSpace(state.Error)
			if msg == "" {
				msg = "backend reported failure"
			}
			s.failLocked(t, errors.Join(ErrJobFailed, errors.New(msg)))
		}
	}
	changed := t.Status != before || t.version != d.version
	var persistErr error
	if changed {
		t.UpdatedAt = s.now().UTC()
		persistErr = s.persistLocked(context.WithoutCancel(ctx))
	}
	status := t.Status
	s.mu.Unlock()

	s.logPersistError(persistErr)
	if changed {
		if status == StatusComplete {
			s.logger.Info("task complete",
				logging.String(logging.FieldTaskID, d.id),
				logging.String(logging.FieldEventType, "task_complete"),
			)
		}
		s.changed()
	}
}

// failLocked applies the retry policy. Connectivity loss and shutdown return
// the task to pending without consuming an attempt; retryable failures consume
// one attempt while attempts remain; everything else is terminal.
func (s *Scheduler) failLocked(t *Task, err error) {
	kind, retryable := classify(err)
	now := s.now().UTC()
	t.LastError = err.Error()
	t.ErrorKind = kind
	t.UpdatedAt = now
	t.version++

	logger := s.logger.With(logging.String(logging.FieldTaskID, t.ID))
	switch {
	case kind == remote.KindConnectivityLost || kind == kindCancelled:
		t.Status = StatusPending
		t.JobID = ""
		logger.Info("task deferred", logging.String("reason", string(kind)))
	case retryable && t.Attempts < s.opts.MaxRetries:
		t.Attempts++
		t.Status = StatusPending
		t.JobID = ""
		logging.WarnWithContext(logger, "task failed; retrying", "task_retry_scheduled",
			logging.Int("attempts", t.Attempts),
			logging.Int("max_retries", s.opts.MaxRetries),
			logging.Error(err),
			logging.String(logging.FieldImpact, "analysis is resubmitted on a later tick"),
		)
	default:
		t.Status = StatusError
		t.Exhausted = retryable
		t.CompletedAt = &now
		logging.WarnWithContext(logger, "task failed", "task_failed",
			logging.Int("attempts", t.Attempts),
			logging.String("error_kind", string(kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry with 'sightline queue retry'"),
			logging.String(logging.FieldImpact, "analysis result unavailable"),
		)
	}
}

func classify(err error) (remote.Kind, bool) {
	if errors.Is(err, ErrJobFailed) {
		return KindJobFailed, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return remote.KindBackendUnavailable, true
	}
	kind := remote.Classify(err)
	return kind, kind.Retryable()
}

func mapJobStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "analyzing", "analysing", "running":
		return StatusAnalyzing
	case "complete", "completed", "done", "succeeded", "success":
		return StatusComplete
	case "error", "failed", "failure":
		return StatusError
	default:
		return StatusProcessing
	}
}

// prune drops terminal tasks and settled batches nobody has looked at within
// the retention window. Tasks referenced by a retained batch are kept.
func (s *Scheduler) prune(ctx context.Context) {
	if s.opts.Retention <= 0 {
		return
	}
	s.mu.Lock()
	cutoff := s.now().Add(-s.opts.Retention)
	removed := 0

	for id, b := range s.batches {
		settled := true
		latest := maxTime(b.CreatedAt, b.LastQueriedAt)
		for _, taskID := range b.TaskIDs {
			t := s.tasks[taskID]
			if t == nil {
				continue
			}
			if !t.Terminal() {
				settled = false
				break
			}
			latest = maxTime(latest, lastTouched(t))
		}
		if settled && latest.Before(cutoff) {
			delete(s.batches, id)
		}
	}
	referenced := make(map[string]struct{})
	for _, b := range s.batches {
		for _, taskID := range b.TaskIDs {
			referenced[taskID] = struct{}{}
		}
	}

	kept := s.order[:0]
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		if _, ok := referenced[id]; !ok && t.Terminal() && lastTouched(t).Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	var err error
	if removed > 0 {
		err = s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.logPersistError(err)
	if removed > 0 {
		s.logger.Debug("pruned terminal tasks", logging.Int("removed", removed))
		s.changed()
	}
}

func lastTouched(t *Task) time.Time {
	latest := maxTime(t.UpdatedAt, t.LastQueriedAt)
	if t.CompletedAt != nil {
		latest = maxTime(latest, *t.CompletedAt)
	}
	return latest
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
