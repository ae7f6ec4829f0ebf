package energy

import (
	"errors"
	"testing"
)

func testSettings() Settings {
	return Settings{
		DeploymentID:              "fpf-001",
		BatteryMaxWh:              10000,
		GridConnectThreshold:      20,
		ShutdownThreshold:         10,
		WarningThreshold:          30,
		GridDisconnectThreshold:   50,
		CriticalPriorityThreshold: 2,
	}
}

func consumer(id string, priority int, watts float64) Consumer {
	return Consumer{ID: id, DeploymentID: "fpf-001", Name: "Consumer " + id, Priority: priority, ConsumptionW: watts, IsActive: true}
}

func ptr[T any](v T) *T { return &v }

func shutdownIDs(st State) []string {
	ids := make([]string, 0, len(st.Shutdown))
	for _, s := range st.Shutdown {
		ids = append(ids, s.ConsumerID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEvaluate_Ladder(t *testing.T) {
	consumers := []Consumer{
		consumer("life-support", 1, 100),
		consumer("pump", 2, 300),
		consumer("lights", 4, 200),
		consumer("heater", 7, 1500),
		consumer("fan", 6, 50),
	}
	solar := Source{ID: "pv", Type: SourceSolar, ProductionW: 5000}
	gridOn := Source{ID: "grid", Type: SourceGrid, IsConnected: true}
	gridOff := Source{ID: "grid", Type: SourceGrid}

	tests := []struct {
		name         string
		levelWh      float64
		sources      []Source
		wantStatus   Status
		wantDecision Decision
		wantShutdown []string
	}{
		{"4% is an emergency", 400, nil, StatusEmergency, DecisionEmergencyShutdown, []string{"heater", "fan", "lights"}},
		{"exactly 5% is an emergency", 500, nil, StatusEmergency, DecisionEmergencyShutdown, []string{"heater", "fan", "lights"}},
		{"exactly the shutdown threshold sheds non-critical", 1000, nil, StatusCritical, DecisionShutdownNonCritical, []string{"heater", "fan"}},
		{"just below grid connect", 1999, nil, StatusLow, DecisionConnectGrid, nil},
		{"warning with deficit connects", 2500, []Source{gridOff}, StatusWarning, DecisionConnectGrid, nil},
		{"warning with grid already on", 2500, []Source{gridOn}, StatusWarning, DecisionNone, nil},
		{"warning with surplus", 2500, []Source{solar, gridOff}, StatusWarning, DecisionNone, nil},
		{"normal with surplus disconnects", 8000, []Source{solar, gridOn}, StatusNormal, DecisionDisconnectGrid, nil},
		{"normal at disconnect threshold keeps grid", 5000, []Source{solar, gridOn}, StatusNormal, DecisionNone, nil},
		{"normal with deficit keeps grid", 8000, []Source{gridOn}, StatusNormal, DecisionNone, nil},
		{"battery level below zero clamps", -50, nil, StatusEmergency, DecisionEmergencyShutdown, []string{"heater", "fan", "lights"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{Settings: testSettings(), Consumers: consumers, Sources: tt.sources}
			st, err := Evaluate(snap, tt.levelWh)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if st.Status != tt.wantStatus || st.Decision != tt.wantDecision {
				t.Errorf("got %s/%s, want %s/%s", st.Status, st.Decision, tt.wantStatus, tt.wantDecision)
			}
			if got := shutdownIDs(st); !equalIDs(got, tt.wantShutdown) {
				t.Errorf("shutdown = %v, want %v", got, tt.wantShutdown)
			}
		})
	}
}

func TestEvaluate_Totals(t *testing.T) {
	off := consumer("off", 3, 999)
	off.IsActive = false
	snap := Snapshot{
		Settings:  testSettings(),
		Consumers: []Consumer{consumer("a", 3, 400), consumer("b", 3, 100), off},
		Sources: []Source{
			{ID: "pv", Type: SourceSolar, ProductionW: 700},
			{ID: "wt", Type: SourceWind, ProductionW: 300},
			{ID: "bat", Type: SourceBattery, ProductionW: 2000},
			{ID: "grid", Type: SourceGrid, ProductionW: 5000},
		},
	}

	st, err := Evaluate(snap, 7000)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if st.ConsumptionW != 500 || st.ProductionW != 1000 || st.NetPowerW != 500 {
		t.Errorf("consumption/production/net = %v/%v/%v, want 500/1000/500",
			st.ConsumptionW, st.ProductionW, st.NetPowerW)
	}
	if st.BatteryPercent != 70 || st.GridConnected {
		t.Errorf("percent = %v grid = %v", st.BatteryPercent, st.GridConnected)
	}
}

func TestEvaluate_ConsumerOverrides(t *testing.T) {
	fridge := consumer("fridge", 3, 150)
	fridge.ShutdownThreshold = ptr(40.0)
	irrigation := consumer("irrigation", 4, 800)
	irrigation.ShutdownThreshold = ptr(20.0)
	irrigation.ForecastShutdownThreshold = ptr(60.0)
	heater := consumer("heater", 7, 1500)
	heater.ShutdownThreshold = ptr(60.0)
	heater.IsActive = false

	snap := Snapshot{
		Settings:  testSettings(),
		Consumers: []Consumer{fridge, irrigation, heater},
		Sources:   []Source{{ID: "pv", Type: SourceSolar, ProductionW: 5000}, {ID: "grid", Type: SourceGrid, IsConnected: true}},
	}

	t.Run("override escalates disconnect", func(t *testing.T) {
		st, err := Evaluate(snap, 6000)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if st.Decision != DecisionShutdownNonCritical {
			t.Errorf("decision = %s, want %s", st.Decision, DecisionShutdownNonCritical)
		}
		if st.Status != StatusNormal {
			t.Errorf("status = %s, want NORMAL", st.Status)
		}
		if got := shutdownIDs(st); !equalIDs(got, []string{"irrigation"}) {
			t.Errorf("shutdown = %v, want [irrigation]", got)
		}
		if st.Shutdown[0].Reason != ReasonThreshold {
			t.Errorf("reason = %q", st.Shutdown[0].Reason)
		}
	})

	t.Run("override keeps grid connect", func(t *testing.T) {
		st, err := Evaluate(snap, 1500)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if st.Decision != DecisionConnectGrid {
			t.Errorf("decision = %s, want %s", st.Decision, DecisionConnectGrid)
		}
		if got := shutdownIDs(st); !equalIDs(got, []string{"irrigation", "fridge"}) {
			t.Errorf("shutdown = %v, want [irrigation fridge]", got)
		}
	})

	t.Run("no consumer listed twice", func(t *testing.T) {
		st, err := Evaluate(snap, 300)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if got := shutdownIDs(st); !equalIDs(got, []string{"irrigation", "fridge"}) {
			t.Errorf("shutdown = %v, want [irrigation fridge]", got)
		}
		for _, s := range st.Shutdown {
			if s.Reason != ReasonEmergency {
				t.Errorf("%s reason = %q, want emergency", s.ConsumerID, s.Reason)
			}
		}
	})

	t.Run("above every threshold", func(t *testing.T) {
		st, err := Evaluate(snap, 9000)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if len(st.Shutdown) != 0 || st.Decision != DecisionDisconnectGrid {
			t.Errorf("got %s with %v", st.Decision, shutdownIDs(st))
		}
	})
}

func TestEvaluate_Deterministic(t *testing.T) {
	snap := Snapshot{
		Settings:  testSettings(),
		Consumers: []Consumer{consumer("b", 8, 10), consumer("a", 8, 10), consumer("c", 9, 10)},
	}
	first, err := Evaluate(snap, 450)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _ := Evaluate(snap, 450)
		if !equalIDs(shutdownIDs(first), shutdownIDs(again)) || first.Decision != again.Decision {
			t.Fatal("Evaluate() is not deterministic")
		}
	}
	if got := shutdownIDs(first); !equalIDs(got, []string{"c", "a", "b"}) {
		t.Errorf("order = %v, want [c a b]", got)
	}
}

func TestEvaluate_InvalidSettings(t *testing.T) {
	s := testSettings()
	s.BatteryMaxWh = 0
	if _, err := Evaluate(Snapshot{Settings: s}, 100); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("error = %v, want ErrInvalidSettings", err)
	}
}
