package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
)

// ErrNoHandler is returned by New for an unknown trigger type.
var ErrNoHandler = errors.New("trigger: no handler for type")

// ErrInvalidLogic is returned by Validate when trigger logic cannot be parsed.
var ErrInvalidLogic = errors.New("trigger: invalid logic")

// Context carries the inputs a handler may look at.
type Context struct {
	// Now is the evaluation instant, in the deployment's local time zone.
	Now time.Time

	// Measurement is the sensor reading for sensorValue triggers.
	Measurement *float64
}

// Handler decides whether a trigger should fire.
type Handler interface {
	ShouldTrigger(c Context) bool
}

// New returns the handler for a trigger type. Handlers for data-dependent
// types never fail on bad logic: they record the problem and evaluate to
// false.
func New(t action.TriggerType, logic json.RawMessage) (Handler, error) {
	switch t {
	case action.TriggerManual:
		return Manual{}, nil
	case action.TriggerTimeOfDay:
		return newTimeOfDay(logic), nil
	case action.TriggerInterval:
		return newInterval(logic), nil
	case action.TriggerSensorValue:
		return newSensorValue(logic), nil
	case action.TriggerForecast:
		return Forecast{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrNoHandler, t)
	}
}

// ForTrigger is New for a stored trigger.
func ForTrigger(t *action.Trigger) (Handler, error) {
	return New(t.Type, t.Logic)
}

// Validate parses logic strictly. It is used on input paths where a
// malformed document should be rejected instead of stored.
func Validate(t action.TriggerType, logic json.RawMessage) error {
	h, err := New(t, logic)
	if err != nil {
		return err
	}
	if v, ok := h.(interface{ Err() error }); ok {
		if err := v.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidLogic, err)
		}
	}
	if t == action.TriggerForecast {
		if _, err := ParseForecastLogic(logic); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidLogic, err)
		}
	}
	return nil
}

// Manual always fires. Gating happens in the queue.
type Manual struct{}

// ShouldTrigger implements Handler.
func (Manual) ShouldTrigger(Context) bool { return true }

// Forecast never fires on evaluation; the forecast injector's timer fires it.
type Forecast struct{}

// ShouldTrigger implements Handler.
func (Forecast) ShouldTrigger(Context) bool { return false }
