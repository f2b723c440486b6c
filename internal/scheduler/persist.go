package scheduler

import (
	"context"
	"fmt"

	"sightline/internal/logging"
	"sightline/internal/store"
)

const stateKey = "scheduler.state"

type persistedState struct {
	Tasks   []*Task  `json:"tasks"`
	Batches []*Batch `json:"batches"`
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	state := persistedState{
		Tasks:   make([]*Task, 0, len(s.order)),
		Batches: make([]*Batch, 0, len(s.batches)),
	}
	for _, id := range s.order {
		if t := s.tasks[id]; t != nil {
			state.Tasks = append(state.Tasks, t)
		}
	}
	for _, b := range s.batches {
		state.Batches = append(state.Batches, b)
	}
	if err := store.SetJSON(ctx, s.store, stateKey, state); err != nil {
		return fmt.Errorf("persist scheduler state: %w", err)
	}
	return nil
}

// restore loads persisted tasks and batches. Tasks interrupted before the
// backend assigned a job id return to pending; tasks with a job id resume polling.
func (s *Scheduler) restore(ctx context.Context) error {
	var state persistedState
	found, err := store.GetJSON(ctx, s.store, stateKey, &state)
	if err != nil {
		return fmt.Errorf("restore scheduler state: %w", err)
	}
	if !found {
		return nil
	}

	requeued := 0
	for _, t := range state.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		if _, dup := s.tasks[t.ID]; dup {
			continue
		}
		if t.InFlight() && t.JobID == "" {
			t.Status = StatusPending
			requeued++
		}
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	for _, b := range state.Batches {
		if b == nil || b.ID == "" {
			continue
		}
		s.batches[b.ID] = b
	}
	s.logger.Info("scheduler state restored",
		logging.Int("tasks", len(s.order)),
		logging.Int("batches", len(s.batches)),
		logging.Int("requeued", requeued),
	)
	return nil
}
