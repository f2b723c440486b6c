package daemon

import (
	"net/http"
	"strconv"
	"strings"

	"sightline/internal/api"
	"sightline/internal/capture"
)

func (s *apiServer) handleUpsertTab(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	var req api.TabRequest
	if !s.decode(w, r, &req) {
		return
	}
	tab := s.daemon.comps.Capture.Tabs().Upsert(capture.Tab{
		ID:       id,
		WindowID: req.WindowID,
		URL:      strings.TrimSpace(req.URL),
		Title:    req.Title,
		Active:   req.Active,
	})
	s.writeJSON(w, http.StatusOK, api.FromTab(tab))
}

func (s *apiServer) handleRemoveTab(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	if s.daemon.comps.Content != nil {
		s.daemon.comps.Content.Forget(id)
	}
	if !s.daemon.comps.Capture.Tabs().Remove(id) {
		s.writeError(w, http.StatusNotFound, "tab not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleActivateTab(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	if !s.daemon.comps.Capture.Tabs().Activate(id) {
		s.writeError(w, http.StatusNotFound, "tab not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{OK: true})
}

func (s *apiServer) handlePageLoaded(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	var req api.PageLoadRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.daemon.comps.Events.PageLoadComplete(capture.PageLoad{TabID: id, URL: strings.TrimSpace(req.URL)})
	s.writeJSON(w, http.StatusAccepted, api.ActionResponse{OK: true})
}

func (s *apiServer) handlePutContent(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	if s.daemon.comps.Content == nil {
		s.writeError(w, http.StatusNotImplemented, "content cache disabled")
		return
	}
	var req api.ContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.daemon.comps.Content.Put(id, strings.TrimSpace(req.URL), capture.Content{
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCaptureTab(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	s.writeCaptureResult(w, s.daemon.comps.Capture.CaptureTab(r.Context(), id))
}

func (s *apiServer) handleCaptureActive(w http.ResponseWriter, r *http.Request) {
	s.writeCaptureResult(w, s.daemon.comps.Capture.CaptureActiveTab(r.Context()))
}

func (s *apiServer) handleCaptureURL(w http.ResponseWriter, r *http.Request) {
	var req api.CaptureURLRequest
	if !s.decode(w, r, &req) {
		return
	}
	source := capture.SourceBookmark
	if req.Source != "" {
		parsed, ok := capture.ParseSource(req.Source)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown source "+req.Source)
			return
		}
		source = parsed
	}
	result := s.daemon.comps.Capture.SubmitURL(r.Context(), capture.Request{
		URL:        req.URL,
		Title:      req.Title,
		Content:    req.Content,
		Metadata:   req.Metadata,
		Source:     source,
		BookmarkID: req.BookmarkID,
	})
	s.writeCaptureResult(w, result)
}

// writeCaptureResult reports every outcome in the body; only unknown tabs
// change the status code.
func (s *apiServer) writeCaptureResult(w http.ResponseWriter, result capture.Result) {
	status := http.StatusOK
	if result.Outcome == capture.OutcomeNotFound {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, api.FromCaptureResult(result))
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.daemon.comps.History
	if history == nil {
		s.writeJSON(w, http.StatusOK, api.HistoryResponse{Entries: []api.HistoryEntry{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Entries: api.FromHistory(history.List(limit))})
}

func (s *apiServer) handleOffline(w http.ResponseWriter, _ *http.Request) {
	client := s.daemon.comps.Client
	resp := api.OfflineResponse{
		Online:      client.Online(),
		Requests:    []api.QueuedRequest{},
		DeadLetters: []api.QueuedRequest{},
	}
	if queue := client.Queue(); queue != nil {
		resp.Depth = queue.Len()
		resp.Replaying = queue.Replaying()
		resp.Requests = api.FromQueuedRequests(queue.Snapshot())
		resp.DeadLetters = api.FromDeadLetters(queue.DeadLetters())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	queue := s.daemon.comps.Client.Queue()
	if queue == nil {
		s.writeError(w, http.StatusNotImplemented, "offline queue disabled")
		return
	}
	if s.daemon.comps.Connectivity != nil && !s.daemon.comps.Client.Online() {
		s.daemon.comps.Connectivity.Probe(r.Context())
	}
	result, err := queue.Replay(r.Context())
	s.writeJSON(w, http.StatusOK, api.FromReplayResult(result, err))
}
