package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Comparison operators for sensorValue triggers.
const (
	OpGreater = ">"
	OpLess    = "<"
	OpBetween = "between"
)

// SensorValue compares a measurement against a threshold. ">" and "<" are
// strict; "between" includes both bounds.
type SensorValue struct {
	Comparison string
	Value      *float64
	Min        *float64
	Max        *float64
	err        error
}

type sensorLogic struct {
	Comparison string   `json:"comparison"`
	Value      *float64 `json:"value"`
	Min        *float64 `json:"min"`
	Max        *float64 `json:"max"`
}

func newSensorValue(raw json.RawMessage) *SensorValue {
	var l sensorLogic
	if err := json.Unmarshal(raw, &l); err != nil {
		return &SensorValue{err: fmt.Errorf("parsing sensorValue logic: %w", err)}
	}
	h := &SensorValue{Comparison: l.Comparison, Value: l.Value, Min: l.Min, Max: l.Max}
	switch l.Comparison {
	case OpGreater, OpLess:
		if l.Value == nil {
			h.err = fmt.Errorf("comparison %q needs value", l.Comparison)
		}
	case OpBetween:
		if l.Min == nil || l.Max == nil {
			h.err = errors.New("comparison between needs min and max")
		} else if *l.Min > *l.Max {
			h.err = errors.New("min is greater than max")
		}
	default:
		h.err = fmt.Errorf("unknown comparison %q", l.Comparison)
	}
	return h
}

// Err reports a logic parse failure.
func (h *SensorValue) Err() error { return h.err }

// ShouldTrigger implements Handler.
func (h *SensorValue) ShouldTrigger(c Context) bool {
	if h.err != nil || c.Measurement == nil {
		return false
	}
	m := *c.Measurement
	switch h.Comparison {
	case OpGreater:
		return m > *h.Value
	case OpLess:
		return m < *h.Value
	case OpBetween:
		return m >= *h.Min && m <= *h.Max
	default:
		return false
	}
}
