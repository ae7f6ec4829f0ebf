package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/energy"
	"github.com/nerrad567/fpf-core/internal/forecast"
)

func writeForecastError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, forecast.ErrAlreadyScheduled):
		writeConflict(w, "a forecast shutdown is already scheduled for this consumer")
	case errors.Is(err, forecast.ErrNoThreshold):
		writeValidation(w, "consumer has no forecast shutdown threshold")
	case errors.Is(err, forecast.ErrNoConsumerAction):
		writeValidation(w, "consumer has no action to shut it down")
	case errors.Is(err, energy.ErrConsumerNotFound):
		writeNotFound(w, "consumer not found")
	case errors.Is(err, action.ErrActionNotFound):
		writeNotFound(w, "action not found")
	case errors.Is(err, action.ErrInvalidTrigger):
		writeValidation(w, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}

func (s *Server) forecastReady(w http.ResponseWriter) bool {
	if s.forecast == nil {
		writeUnavailable(w, "forecast injection not configured")
		return false
	}
	return true
}

// handleForecastPlan schedules an action plan: a list of
// {"timestamp","value"} entries.
func (s *Server) handleForecastPlan(w http.ResponseWriter, r *http.Request) {
	if !s.forecastReady(w) {
		return
	}
	id, ok := pathID(w, r, "id", "action ID")
	if !ok {
		return
	}
	var entries []forecast.PlanEntry
	if !decodeBody(w, r, &entries) {
		return
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			writeValidation(w, "every plan entry needs a timestamp")
			return
		}
	}

	res, err := s.forecast.ScheduleActionPlan(r.Context(), id, entries)
	if err != nil {
		writeForecastError(w, err, "failed to schedule plan")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleForecastSoC checks a predicted state-of-charge curve against a
// consumer's forecast threshold and schedules its shutdown.
func (s *Server) handleForecastSoC(w http.ResponseWriter, r *http.Request) {
	if !s.forecastReady(w) {
		return
	}
	id, ok := pathID(w, r, "id", "consumer ID")
	if !ok {
		return
	}
	var curve []forecast.SoCPoint
	if !decodeBody(w, r, &curve) {
		return
	}

	t, err := s.forecast.ScheduleThresholdShutdown(r.Context(), id, curve)
	if err != nil {
		writeForecastError(w, err, "failed to schedule shutdown")
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, map[string]any{"scheduled": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"scheduled": true, "trigger": t})
}

func (s *Server) handleCancelForecast(w http.ResponseWriter, r *http.Request) {
	if !s.forecastReady(w) {
		return
	}
	id, ok := pathID(w, r, "id", "consumer ID")
	if !ok {
		return
	}
	n, err := s.forecast.CancelConsumer(r.Context(), id)
	if err != nil {
		writeForecastError(w, err, "failed to cancel forecast shutdowns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

// measurementRequest is the body of POST /sensors/{id}/measurements.
type measurementRequest struct {
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// handleMeasurement records a sensor reading and fires matching sensor
// triggers.
func (s *Server) handleMeasurement(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeUnavailable(w, "sensor ingestion not configured")
		return
	}
	id, ok := pathID(w, r, "id", "sensor ID")
	if !ok {
		return
	}
	var req measurementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeValidation(w, "value is required")
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	fired, err := s.sensors.HandleMeasurement(r.Context(), id, *req.Value, at)
	if err != nil {
		s.logger.Error("handling measurement", "sensor_id", id, "error", err)
		writeInternalError(w, "failed to handle measurement")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"fired": fired})
}
