package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/fpf-core/internal/forecast"
)

// ReadingMessage is the payload a sensor publishes. Timestamp is optional
// and defaults to the time of receipt.
type ReadingMessage struct {
	Value     *float64   `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// parseReading accepts either a ReadingMessage object or a bare number.
func parseReading(payload []byte) (float64, time.Time, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return 0, time.Time{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return v, time.Time{}, nil
	}

	var msg ReadingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.Value == nil {
		return 0, time.Time{}, fmt.Errorf("%w: value is required", ErrInvalidPayload)
	}
	var at time.Time
	if msg.Timestamp != nil {
		at = *msg.Timestamp
	}
	return *msg.Value, at, nil
}

func parsePlan(payload []byte) ([]forecast.PlanEntry, error) {
	var entries []forecast.PlanEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	for i, e := range entries {
		if e.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: entry %d has no timestamp", ErrInvalidPayload, i)
		}
	}
	return entries, nil
}

func parseCurve(payload []byte) ([]forecast.SoCPoint, error) {
	var curve []forecast.SoCPoint
	if err := json.Unmarshal(payload, &curve); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	for i, p := range curve {
		if p.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: point %d has no timestamp", ErrInvalidPayload, i)
		}
	}
	return curve, nil
}
