package action

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidateAction(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		mutate  func(a *ControllableAction)
		wantErr bool
	}{
		{"valid", func(*ControllableAction) {}, false},
		{"empty name", func(a *ControllableAction) { a.Name = "  " }, true},
		{"long name", func(a *ControllableAction) { a.Name = strings.Repeat("x", 101) }, true},
		{"missing class", func(a *ControllableAction) { a.ClassID = "" }, true},
		{"missing hardware", func(a *ControllableAction) { a.HardwareID = "" }, true},
		{"negative duration", func(a *ControllableAction) { a.MaximumDurationSeconds = &neg }, true},
		{"info not object", func(a *ControllableAction) { a.AdditionalInformation = json.RawMessage(`[1]`) }, true},
		{"no info", func(a *ControllableAction) { a.AdditionalInformation = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAction("act-1", "hw-1")
			tt.mutate(a)
			err := ValidateAction(a)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAction) {
				t.Errorf("error %v should wrap ErrInvalidAction", err)
			}
		})
	}
}

func TestValidateTrigger(t *testing.T) {
	sensor := "s1"
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{"manual", Trigger{ActionID: "a", Type: TriggerManual, Origin: OriginUser}, false},
		{"missing action", Trigger{Type: TriggerManual, Origin: OriginUser}, true},
		{"unknown type", Trigger{ActionID: "a", Type: "weekly", Origin: OriginUser}, true},
		{"unknown origin", Trigger{ActionID: "a", Type: TriggerManual, Origin: "robot"}, true},
		{"bad json", Trigger{ActionID: "a", Type: TriggerInterval, Origin: OriginUser, Logic: json.RawMessage(`{`)}, true},
		{"sensor without id", Trigger{ActionID: "a", Type: TriggerSensorValue, Origin: OriginUser}, true},
		{"sensor with id", Trigger{ActionID: "a", Type: TriggerSensorValue, Origin: OriginUser, SensorID: &sensor}, false},
		{"long value", Trigger{ActionID: "a", Type: TriggerManual, Origin: OriginUser, ActionValue: strings.Repeat("v", 257)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(&tt.trigger)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTrigger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestControllableAction_MaximumDuration(t *testing.T) {
	a := &ControllableAction{}
	if a.MaximumDuration() != 0 {
		t.Error("unset duration should be zero")
	}
	d := 30
	a.MaximumDurationSeconds = &d
	if a.MaximumDuration().Seconds() != 30 {
		t.Errorf("MaximumDuration() = %v", a.MaximumDuration())
	}
	cp := a.DeepCopy()
	*cp.MaximumDurationSeconds = 5
	if *a.MaximumDurationSeconds != 30 {
		t.Error("DeepCopy shares the duration pointer")
	}
}
