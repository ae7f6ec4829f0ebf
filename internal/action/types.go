package action

import (
	"encoding/json"
	"time"
)

// Hardware is a physical controller. ControllableActions sharing a Hardware
// unit never run concurrently.
type Hardware struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ControllableAction is an actuator definition: a smart plug, a grid relay,
// a pump. ClassID selects the script that performs its side effect.
type ControllableAction struct {
	ID           string `json:"id"`
	DeploymentID string `json:"deployment_id"`
	Name         string `json:"name"`
	ClassID      string `json:"action_class_id"`

	// IsActive gates execution entirely. IsAutomated allows non-manual
	// triggers to drive the action.
	IsActive    bool `json:"is_active"`
	IsAutomated bool `json:"is_automated"`

	// MaximumDurationSeconds is the optional auto-off delay.
	MaximumDurationSeconds *int `json:"maximum_duration_seconds,omitempty"`

	// AdditionalInformation is script-specific configuration (IP address,
	// MQTT topic, URL...).
	AdditionalInformation json.RawMessage `json:"additional_information"`

	HardwareID string    `json:"hardware_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MaximumDuration returns MaximumDurationSeconds as a Duration, zero if unset.
func (a *ControllableAction) MaximumDuration() time.Duration {
	if a.MaximumDurationSeconds == nil || *a.MaximumDurationSeconds <= 0 {
		return 0
	}
	return time.Duration(*a.MaximumDurationSeconds) * time.Second
}

// DeepCopy returns an independent copy of the action.
func (a *ControllableAction) DeepCopy() *ControllableAction {
	if a == nil {
		return nil
	}
	cp := *a
	if a.MaximumDurationSeconds != nil {
		d := *a.MaximumDurationSeconds
		cp.MaximumDurationSeconds = &d
	}
	if a.AdditionalInformation != nil {
		cp.AdditionalInformation = append(json.RawMessage(nil), a.AdditionalInformation...)
	}
	return &cp
}

// TriggerType selects the handler that decides when a trigger fires.
type TriggerType string

// Trigger types.
const (
	TriggerManual      TriggerType = "manual"
	TriggerTimeOfDay   TriggerType = "timeOfDay"
	TriggerInterval    TriggerType = "interval"
	TriggerSensorValue TriggerType = "sensorValue"
	TriggerForecast    TriggerType = "forecast"
)

// AllTriggerTypes returns every known trigger type.
func AllTriggerTypes() []TriggerType {
	return []TriggerType{TriggerManual, TriggerTimeOfDay, TriggerInterval, TriggerSensorValue, TriggerForecast}
}

// Origin records who created a trigger.
type Origin string

// Trigger origins.
const (
	OriginUser      Origin = "user"
	OriginScheduler Origin = "scheduler"
	OriginEnergy    Origin = "energy"
	OriginForecast  Origin = "forecast"
)

// Trigger is an intent to fire an action with ActionValue.
//
// Logic is a JSON document whose schema depends on Type:
//
//	timeOfDay:   {"from":"22:00","to":"02:00"}
//	interval:    {"delay":300}
//	sensorValue: {"comparison":">","value":5} or {"comparison":"between","min":10,"max":20}
//	forecast:    {"timestamp":"2026-05-01T06:00:00Z","kind":"plan"}
type Trigger struct {
	ID          string          `json:"id"`
	ActionID    string          `json:"action_id"`
	Type        TriggerType     `json:"type"`
	ActionValue string          `json:"action_value"`
	Logic       json.RawMessage `json:"trigger_logic"`
	IsActive    bool            `json:"is_active"`
	Origin      Origin          `json:"origin"`
	// SensorID binds a sensorValue trigger to a measurement stream.
	SensorID  *string   `json:"sensor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsManual reports whether the trigger is a manual one.
func (t *Trigger) IsManual() bool {
	return t.Type == TriggerManual
}
