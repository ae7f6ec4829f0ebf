package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/queue"
)

// maxQueueListLimit caps the limit query parameter of GET /queue.
const maxQueueListLimit = 1000

// handleListQueue returns queue entries, newest first.
//
// Query parameters:
//   - action_id: filter by action
//   - hardware_id: filter by hardware unit
//   - unfinished: "true" to return only pending and running entries
//   - limit: maximum number of entries (default 100)
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := queue.ListFilter{
		ActionID:       q.Get("action_id"),
		HardwareID:     q.Get("hardware_id"),
		UnfinishedOnly: q.Get("unfinished") == "true",
		Limit:          100,
	}
	if len(f.ActionID) > maxQueryParamLen || len(f.HardwareID) > maxQueryParamLen {
		writeBadRequest(w, "filter exceeds maximum length")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQueueListLimit {
			writeBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}

	entries, err := s.queue.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, "failed to list queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleGetQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "entry ID")
	if !ok {
		return
	}
	e, err := s.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrEntryNotFound) {
			writeNotFound(w, "queue entry not found")
			return
		}
		writeInternalError(w, "failed to get queue entry")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// createQueueRequest is the body of POST /queue.
type createQueueRequest struct {
	ActionID  string `json:"actionId"`
	TriggerID string `json:"actionTriggerId"`
}

// handleCreateQueueEntry admits a user request for an action and runs an
// admission pass.
func (s *Server) handleCreateQueueEntry(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ActionID == "" || req.TriggerID == "" {
		writeValidation(w, "actionId and actionTriggerId are required")
		return
	}

	entries, err := s.queue.CreateActionInQueue(r.Context(), req.ActionID, req.TriggerID)
	if err != nil {
		switch {
		case errors.Is(err, action.ErrActionNotFound), errors.Is(err, action.ErrTriggerNotFound):
			writeActionError(w, err, "")
		case errors.Is(err, queue.ErrTriggerMismatch):
			writeValidation(w, "trigger does not belong to action")
		default:
			s.logger.Error("creating queue entries", "action_id", req.ActionID, "error", err)
			writeInternalError(w, "failed to queue action")
		}
		return
	}

	// Scripts outlive a disconnecting client.
	summary := s.queue.Process(context.WithoutCancel(r.Context()))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"entries": entries,
		"summary": summary,
	})
}

// handleProcessQueue runs one admission pass.
func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	summary := s.queue.Process(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, summary)
}
