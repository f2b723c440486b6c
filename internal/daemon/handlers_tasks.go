package daemon

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sightline/internal/api"
	"sightline/internal/scheduler"
)

func (s *apiServer) handleQueueTask(w http.ResponseWriter, r *http.Request) {
	var req api.QueueTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.daemon.comps.Scheduler.QueueURL(r.Context(), req.URL, scheduler.QueueOptions{
		Params:         req.Params,
		AllowDuplicate: req.AllowDuplicate,
	})
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.QueueTaskResponse{TaskID: id})
}

func (s *apiServer) handleQueueBatch(w http.ResponseWriter, r *http.Request) {
	var req api.QueueBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	batch, err := s.daemon.comps.Scheduler.QueueBatch(r.Context(), req.URLs, scheduler.QueueOptions{
		Params:         req.Params,
		AllowDuplicate: req.AllowDuplicate,
	})
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.BatchResponse{Batch: api.FromBatch(batch)})
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sched := s.daemon.comps.Scheduler
	var tasks []scheduler.Task
	switch r.URL.Query().Get("all") {
	case "1", "true":
		tasks = sched.Tasks()
	default:
		tasks = sched.ActiveTasks()
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{
		Tasks:  api.FromTasks(tasks),
		Counts: api.FromCounts(sched.Counts()),
	})
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.daemon.comps.Scheduler.TaskStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task)})
}

func (s *apiServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.daemon.comps.Scheduler.CancelTask(r.Context(), id) {
		s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true})
		return
	}
	s.writeActionRefused(w, id, "task is already finished")
}

func (s *apiServer) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.daemon.comps.Scheduler.RetryTask(r.Context(), id) {
		s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true})
		return
	}
	s.writeActionRefused(w, id, "task is not in the error state")
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.comps.Scheduler.BatchStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchResponse{Batch: api.FromBatchStatus(status)})
}

// writeActionRefused distinguishes unknown tasks from tasks in the wrong state.
func (s *apiServer) writeActionRefused(w http.ResponseWriter, id, reason string) {
	if _, err := s.daemon.comps.Scheduler.TaskStatus(id); err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	s.writeError(w, http.StatusConflict, reason)
}

func (s *apiServer) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound), errors.Is(err, scheduler.ErrBatchNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrInvalidURL),
		errors.Is(err, scheduler.ErrBatchTooLarge),
		errors.Is(err, scheduler.ErrEmptyBatch):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
