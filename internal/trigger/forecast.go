package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Forecast trigger kinds.
const (
	KindPlan              = "plan"
	KindThresholdShutdown = "threshold-shutdown"
)

// ForecastLogic is the trigger logic of a forecast trigger.
type ForecastLogic struct {
	Timestamp  time.Time `json:"timestamp"`
	ConsumerID string    `json:"consumerId,omitempty"`
	Kind       string    `json:"kind"`
}

// ParseForecastLogic decodes and checks forecast trigger logic.
func ParseForecastLogic(raw json.RawMessage) (ForecastLogic, error) {
	var l ForecastLogic
	if err := json.Unmarshal(raw, &l); err != nil {
		return ForecastLogic{}, fmt.Errorf("parsing forecast logic: %w", err)
	}
	if l.Timestamp.IsZero() {
		return ForecastLogic{}, errors.New("forecast logic needs a timestamp")
	}
	switch l.Kind {
	case KindPlan:
	case KindThresholdShutdown:
		if l.ConsumerID == "" {
			return ForecastLogic{}, errors.New("threshold-shutdown logic needs consumerId")
		}
	default:
		return ForecastLogic{}, fmt.Errorf("unknown forecast kind %q", l.Kind)
	}
	return l, nil
}

// Marshal encodes the logic for storage.
func (l ForecastLogic) Marshal() json.RawMessage {
	l.Timestamp = l.Timestamp.UTC()
	b, _ := json.Marshal(l) //nolint:errcheck // plain struct, cannot fail
	return b
}
