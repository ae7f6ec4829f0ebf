package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/fpf-core/internal/energy"
)

func writeEnergyError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, energy.ErrSettingsNotFound):
		writeNotFound(w, "energy settings not found")
	case errors.Is(err, energy.ErrConsumerNotFound):
		writeNotFound(w, "consumer not found")
	case errors.Is(err, energy.ErrSourceNotFound):
		writeNotFound(w, "source not found")
	case errors.Is(err, energy.ErrInvalidSettings),
		errors.Is(err, energy.ErrInvalidConsumer),
		errors.Is(err, energy.ErrInvalidSource):
		writeValidation(w, err.Error())
	case errors.Is(err, energy.ErrNoBatteryReading):
		writeUnavailable(w, "no battery reading available")
	default:
		writeInternalError(w, fallback)
	}
}

// energyReady writes a 503 when the energy store is not wired.
func (s *Server) energyReady(w http.ResponseWriter) bool {
	if s.energy == nil {
		writeUnavailable(w, "energy management not configured")
		return false
	}
	return true
}

// ─── Settings ───────────────────────────────────────────────────────────────

// handleGetEnergySettings returns the stored settings, or the configured
// defaults when the deployment has none.
func (s *Server) handleGetEnergySettings(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}

	var (
		settings *energy.Settings
		err      error
	)
	if s.driver != nil {
		settings, err = s.driver.Settings(r.Context(), dep)
	} else {
		settings, err = s.energy.GetSettings(r.Context(), dep)
	}
	if err != nil {
		writeEnergyError(w, err, "failed to get energy settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutEnergySettings(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	var settings energy.Settings
	if !decodeBody(w, r, &settings) {
		return
	}
	settings.DeploymentID = dep

	if err := energy.ValidateSettings(&settings); err != nil {
		writeEnergyError(w, err, "")
		return
	}
	if err := s.energy.SaveSettings(r.Context(), &settings); err != nil {
		writeEnergyError(w, err, "failed to save energy settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ─── Consumers ──────────────────────────────────────────────────────────────

func (s *Server) handleListConsumers(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	consumers, err := s.energy.ListConsumers(r.Context(), dep)
	if err != nil {
		writeInternalError(w, "failed to list consumers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consumers": consumers, "count": len(consumers)})
}

func (s *Server) handleCreateConsumer(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	c := energy.Consumer{IsActive: true}
	if !decodeBody(w, r, &c) {
		return
	}
	c.DeploymentID = dep
	if c.ID == "" {
		c.ID = energy.GenerateID()
	}

	if err := energy.ValidateConsumer(&c); err != nil {
		writeEnergyError(w, err, "")
		return
	}
	if err := s.energy.CreateConsumer(r.Context(), &c); err != nil {
		writeEnergyError(w, err, "failed to create consumer")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type consumerPatch struct {
	Name                      *string  `json:"name"`
	ConsumptionW              *float64 `json:"consumption_w"`
	Priority                  *int     `json:"priority"`
	ShutdownThreshold         *float64 `json:"shutdown_threshold"`
	ForecastShutdownThreshold *float64 `json:"forecast_shutdown_threshold"`
	ForecastBufferDays        *int     `json:"forecast_buffer_days"`
	ActionID                  *string  `json:"action_id"`
	IsActive                  *bool    `json:"is_active"`
	LiveEntityID              *string  `json:"live_entity_id"`
}

// handleUpdateConsumer applies a partial update. Turning a shed consumer
// back on cancels its pending forecast shutdowns.
func (s *Server) handleUpdateConsumer(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	id, ok := pathID(w, r, "id", "consumer ID")
	if !ok {
		return
	}
	var p consumerPatch
	if !decodeBody(w, r, &p) {
		return
	}

	c, err := s.energy.GetConsumer(r.Context(), id)
	if err != nil {
		writeEnergyError(w, err, "failed to get consumer")
		return
	}
	wasActive := c.IsActive
	oldThreshold, oldBuffer := c.ForecastShutdownThreshold, c.ForecastBufferDays

	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.ConsumptionW != nil {
		c.ConsumptionW = *p.ConsumptionW
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.ShutdownThreshold != nil {
		c.ShutdownThreshold = negativeClears(p.ShutdownThreshold)
	}
	if p.ForecastShutdownThreshold != nil {
		c.ForecastShutdownThreshold = negativeClears(p.ForecastShutdownThreshold)
	}
	if p.ForecastBufferDays != nil {
		c.ForecastBufferDays = *p.ForecastBufferDays
	}
	if p.ActionID != nil {
		c.ActionID = emptyClears(p.ActionID)
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.LiveEntityID != nil {
		c.LiveEntityID = emptyClears(p.LiveEntityID)
	}

	if err := energy.ValidateConsumer(c); err != nil {
		writeEnergyError(w, err, "")
		return
	}
	if err := s.energy.UpdateConsumer(r.Context(), c); err != nil {
		writeEnergyError(w, err, "failed to update consumer")
		return
	}

	// Reactivation or new forecast limits void the shutdowns already planned.
	reactivated := !wasActive && c.IsActive
	retuned := !sameThreshold(oldThreshold, c.ForecastShutdownThreshold) || oldBuffer != c.ForecastBufferDays
	cancelled := 0
	if (reactivated || retuned) && s.forecast != nil {
		cancelled, err = s.forecast.CancelConsumer(r.Context(), c.ID)
		if err != nil {
			s.logger.Warn("cancelling forecast shutdowns", "consumer_id", c.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"consumer":            c,
		"cancelled_shutdowns": cancelled,
	})
}

func sameThreshold(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ─── Sources ────────────────────────────────────────────────────────────────

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	sources, err := s.energy.ListSources(r.Context(), dep)
	if err != nil {
		writeInternalError(w, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	var src energy.Source
	if !decodeBody(w, r, &src) {
		return
	}
	src.DeploymentID = dep
	if src.ID == "" {
		src.ID = energy.GenerateID()
	}

	if err := energy.ValidateSource(&src); err != nil {
		writeEnergyError(w, err, "")
		return
	}
	if err := s.energy.CreateSource(r.Context(), &src); err != nil {
		writeEnergyError(w, err, "failed to create source")
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

type sourcePatch struct {
	Name         *string  `json:"name"`
	ProductionW  *float64 `json:"production_w"`
	CapacityW    *float64 `json:"capacity_w"`
	ActionID     *string  `json:"action_id"`
	IsConnected  *bool    `json:"is_connected"`
	LiveEntityID *string  `json:"live_entity_id"`
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	if !s.energyReady(w) {
		return
	}
	id, ok := pathID(w, r, "id", "source ID")
	if !ok {
		return
	}
	var p sourcePatch
	if !decodeBody(w, r, &p) {
		return
	}

	src, err := s.energy.GetSource(r.Context(), id)
	if err != nil {
		writeEnergyError(w, err, "failed to get source")
		return
	}
	if p.Name != nil {
		src.Name = *p.Name
	}
	if p.ProductionW != nil {
		src.ProductionW = *p.ProductionW
	}
	if p.CapacityW != nil {
		src.CapacityW = *p.CapacityW
	}
	if p.ActionID != nil {
		src.ActionID = emptyClears(p.ActionID)
	}
	if p.IsConnected != nil {
		src.IsConnected = *p.IsConnected
	}
	if p.LiveEntityID != nil {
		src.LiveEntityID = emptyClears(p.LiveEntityID)
	}

	if err := energy.ValidateSource(src); err != nil {
		writeEnergyError(w, err, "")
		return
	}
	if err := s.energy.UpdateSource(r.Context(), src); err != nil {
		writeEnergyError(w, err, "failed to update source")
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// handleEvaluateEnergy evaluates a hypothetical battery level without
// acting on the result.
//
// Query parameters:
//   - battery_wh: battery level in watt-hours (required)
func (s *Server) handleEvaluateEnergy(w http.ResponseWriter, r *http.Request) {
	if s.driver == nil {
		writeUnavailable(w, "energy management not configured")
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}
	wh, err := strconv.ParseFloat(r.URL.Query().Get("battery_wh"), 64)
	if err != nil {
		writeBadRequest(w, "battery_wh must be a number")
		return
	}

	st, err := s.driver.EvaluateEnergyState(r.Context(), dep, wh)
	if err != nil {
		writeEnergyError(w, err, "failed to evaluate energy state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCheckEnergy runs one energy check: live battery level, decision,
// and dispatch of the resulting actions.
func (s *Server) handleCheckEnergy(w http.ResponseWriter, r *http.Request) {
	if s.driver == nil {
		writeUnavailable(w, "energy management not configured")
		return
	}
	dep, ok := pathID(w, r, "deployment", "deployment ID")
	if !ok {
		return
	}

	st, err := s.driver.Check(r.Context(), dep)
	if err != nil {
		writeEnergyError(w, err, "energy check failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func emptyClears(s *string) *string {
	if *s == "" {
		return nil
	}
	return s
}

func negativeClears(f *float64) *float64 {
	if *f < 0 {
		return nil
	}
	return f
}
