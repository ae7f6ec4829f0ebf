package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fpf-core/internal/action"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// pathID reads a URL parameter, writing a 400 and returning false when it
// is empty or too long.
func pathID(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	id := chi.URLParam(r, name)
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid "+label)
		return "", false
	}
	return id, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// writeActionError maps action registry errors to HTTP responses.
func writeActionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, action.ErrHardwareNotFound):
		writeNotFound(w, "hardware not found")
	case errors.Is(err, action.ErrActionNotFound):
		writeNotFound(w, "action not found")
	case errors.Is(err, action.ErrTriggerNotFound):
		writeNotFound(w, "trigger not found")
	case errors.Is(err, action.ErrHardwareExists), errors.Is(err, action.ErrActionExists):
		writeConflict(w, err.Error())
	case errors.Is(err, action.ErrHardwareInUse):
		writeConflict(w, "hardware still has actions")
	case errors.Is(err, action.ErrInvalidAction), errors.Is(err, action.ErrInvalidTrigger):
		writeValidation(w, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}

// ─── Hardware ───────────────────────────────────────────────────────────────

func (s *Server) handleListHardware(w http.ResponseWriter, r *http.Request) {
	hw, err := s.actions.ListHardware(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list hardware")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hardware": hw, "count": len(hw)})
}

func (s *Server) handleGetHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "hardware ID")
	if !ok {
		return
	}
	h, err := s.actions.GetHardware(r.Context(), id)
	if err != nil {
		writeActionError(w, err, "failed to get hardware")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCreateHardware(w http.ResponseWriter, r *http.Request) {
	var h action.Hardware
	if !decodeBody(w, r, &h) {
		return
	}
	if err := s.actions.CreateHardware(r.Context(), &h); err != nil {
		writeActionError(w, err, "failed to create hardware")
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleDeleteHardware(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "hardware ID")
	if !ok {
		return
	}
	if err := s.actions.DeleteHardware(r.Context(), id); err != nil {
		writeActionError(w, err, "failed to delete hardware")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Actions ────────────────────────────────────────────────────────────────

// handleListActions returns all actions.
//
// Query parameters:
//   - hardware_id: filter by hardware unit
//   - class: filter by action class
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		actions []action.ControllableAction
		err     error
	)
	switch {
	case q.Get("hardware_id") != "":
		if len(q.Get("hardware_id")) > maxQueryParamLen {
			writeBadRequest(w, "hardware_id exceeds maximum length")
			return
		}
		actions, err = s.actions.ListActionsByHardware(ctx, q.Get("hardware_id"))
	case q.Get("class") != "":
		if len(q.Get("class")) > maxQueryParamLen {
			writeBadRequest(w, "class exceeds maximum length")
			return
		}
		actions, err = s.actions.ListActionsByClass(ctx, q.Get("class"))
	default:
		actions, err = s.actions.ListActions(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	a, err := s.actions.GetAction(r.Context(), id)
	if err != nil {
		writeActionError(w, err, "failed to get action")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// checkClass rejects action classes with no registered script.
func (s *Server) checkClass(w http.ResponseWriter, classID string) bool {
	if s.scripts != nil && !s.scripts.Has(classID) {
		writeValidation(w, "unknown action class: "+classID)
		return false
	}
	return true
}

func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var a action.ControllableAction
	if !decodeBody(w, r, &a) {
		return
	}
	if !s.checkClass(w, a.ClassID) {
		return
	}
	if err := s.actions.CreateAction(r.Context(), &a); err != nil {
		if errors.Is(err, action.ErrHardwareNotFound) {
			writeValidation(w, "hardware not found: "+a.HardwareID)
			return
		}
		writeActionError(w, err, "failed to create action")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// actionPatch lists the mutable fields of an action. Nil fields are left
// unchanged.
type actionPatch struct {
	Name                   *string          `json:"name"`
	ClassID                *string          `json:"action_class_id"`
	IsActive               *bool            `json:"is_active"`
	IsAutomated            *bool            `json:"is_automated"`
	MaximumDurationSeconds *int             `json:"maximum_duration_seconds"`
	AdditionalInformation  *json.RawMessage `json:"additional_information"`
}

func (s *Server) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	var p actionPatch
	if !decodeBody(w, r, &p) {
		return
	}

	a, err := s.actions.GetAction(r.Context(), id)
	if err != nil {
		writeActionError(w, err, "failed to get action")
		return
	}
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.ClassID != nil {
		if !s.checkClass(w, *p.ClassID) {
			return
		}
		a.ClassID = *p.ClassID
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.IsAutomated != nil {
		a.IsAutomated = *p.IsAutomated
	}
	if p.MaximumDurationSeconds != nil {
		a.MaximumDurationSeconds = p.MaximumDurationSeconds
		if *p.MaximumDurationSeconds <= 0 {
			a.MaximumDurationSeconds = nil
		}
	}
	if p.AdditionalInformation != nil {
		a.AdditionalInformation = *p.AdditionalInformation
	}

	if err := s.actions.UpdateAction(r.Context(), a); err != nil {
		writeActionError(w, err, "failed to update action")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	if err := s.actions.DeleteAction(r.Context(), id); err != nil {
		writeActionError(w, err, "failed to delete action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Triggers ───────────────────────────────────────────────────────────────

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	if _, err := s.actions.GetAction(r.Context(), id); err != nil {
		writeActionError(w, err, "failed to get action")
		return
	}
	triggers, err := s.actions.ListTriggers(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list triggers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": triggers, "count": len(triggers)})
}

// handleCreateTrigger adds a user trigger to an action.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	var t action.Trigger
	if !decodeBody(w, r, &t) {
		return
	}
	t.ID = ""
	t.ActionID = id
	t.Origin = action.OriginUser

	if err := s.actions.CreateTrigger(r.Context(), &t); err != nil {
		writeActionError(w, err, "failed to create trigger")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "trigger ID")
	if !ok {
		return
	}
	t, err := s.actions.GetTrigger(r.Context(), id)
	if err != nil {
		writeActionError(w, err, "failed to get trigger")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type triggerPatch struct {
	ActionValue *string          `json:"action_value"`
	Logic       *json.RawMessage `json:"trigger_logic"`
	IsActive    *bool            `json:"is_active"`
	SensorID    *string          `json:"sensor_id"`
}

func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "trigger ID")
	if !ok {
		return
	}
	var p triggerPatch
	if !decodeBody(w, r, &p) {
		return
	}

	t, err := s.actions.GetTrigger(r.Context(), id)
	if err != nil {
		writeActionError(w, err, "failed to get trigger")
		return
	}
	if p.ActionValue != nil {
		t.ActionValue = *p.ActionValue
	}
	if p.Logic != nil {
		t.Logic = *p.Logic
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	if p.SensorID != nil {
		t.SensorID = p.SensorID
		if *p.SensorID == "" {
			t.SensorID = nil
		}
	}

	if err := s.actions.UpdateTrigger(r.Context(), t); err != nil {
		writeActionError(w, err, "failed to update trigger")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "trigger ID")
	if !ok {
		return
	}
	if err := s.actions.DeleteTrigger(r.Context(), id); err != nil {
		writeActionError(w, err, "failed to delete trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Scripts ────────────────────────────────────────────────────────────────

// handleListScripts returns the registered action classes and their
// configuration fields.
func (s *Server) handleListScripts(w http.ResponseWriter, _ *http.Request) {
	if s.scripts == nil {
		writeUnavailable(w, "script registry not configured")
		return
	}
	classes := s.scripts.Descriptors()
	writeJSON(w, http.StatusOK, map[string]any{"scripts": classes, "count": len(classes)})
}
