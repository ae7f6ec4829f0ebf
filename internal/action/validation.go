package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxClassIDLength     = 64
	maxActionValueLength = 256
	maxDurationSeconds   = 7 * 24 * 3600
)

var validTriggerTypes = func() map[TriggerType]struct{} {
	m := make(map[TriggerType]struct{})
	for _, t := range AllTriggerTypes() {
		m[t] = struct{}{}
	}
	return m
}()

var validOrigins = map[Origin]struct{}{
	OriginUser:      {},
	OriginScheduler: {},
	OriginEnergy:    {},
	OriginForecast:  {},
}

// ValidateHardware checks a hardware unit before persistence.
func ValidateHardware(h *Hardware) error {
	if h == nil {
		return ErrInvalidAction
	}
	if err := validateName(h.Name); err != nil {
		return err
	}
	return nil
}

// ValidateAction checks an action before persistence.
// Returns an error describing the first validation failure found.
func ValidateAction(a *ControllableAction) error {
	if a == nil {
		return ErrInvalidAction
	}
	if err := validateName(a.Name); err != nil {
		return err
	}
	if a.ClassID == "" || len(a.ClassID) > maxClassIDLength {
		return fmt.Errorf("%w: action_class_id is required (max %d characters)", ErrInvalidAction, maxClassIDLength)
	}
	if a.HardwareID == "" {
		return fmt.Errorf("%w: hardware_id is required", ErrInvalidAction)
	}
	if a.MaximumDurationSeconds != nil {
		if d := *a.MaximumDurationSeconds; d < 0 || d > maxDurationSeconds {
			return fmt.Errorf("%w: maximum_duration_seconds must be 0-%d", ErrInvalidAction, maxDurationSeconds)
		}
	}
	if len(a.AdditionalInformation) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(a.AdditionalInformation, &obj); err != nil {
			return fmt.Errorf("%w: additional_information must be a JSON object", ErrInvalidAction)
		}
	}
	return nil
}

// ValidateTrigger checks the structural fields of a trigger. The per-type
// logic schema is checked by the trigger package.
func ValidateTrigger(t *Trigger) error {
	if t == nil {
		return ErrInvalidTrigger
	}
	if t.ActionID == "" {
		return fmt.Errorf("%w: action_id is required", ErrInvalidTrigger)
	}
	if _, ok := validTriggerTypes[t.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
	}
	if _, ok := validOrigins[t.Origin]; !ok {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidTrigger, t.Origin)
	}
	if len(t.ActionValue) > maxActionValueLength {
		return fmt.Errorf("%w: action_value exceeds %d characters", ErrInvalidTrigger, maxActionValueLength)
	}
	if len(t.Logic) > 0 && !json.Valid(t.Logic) {
		return fmt.Errorf("%w: trigger_logic is not valid JSON", ErrInvalidTrigger)
	}
	if t.Type == TriggerSensorValue && (t.SensorID == nil || *t.SensorID == "") {
		return fmt.Errorf("%w: sensorValue triggers need a sensor_id", ErrInvalidTrigger)
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAction)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidAction, maxNameLength)
	}
	return nil
}

// GenerateID returns a new random identifier.
func GenerateID() string {
	return uuid.New().String()
}
