package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/forecast"
	"github.com/nerrad567/fpf-core/internal/infrastructure/mqtt"
)

var testTopics = mqtt.Topics{Deployment: "fpf-001"}

type measurement struct {
	sensorID string
	value    float64
	at       time.Time
}

type fakeMeasurements struct {
	mu   sync.Mutex
	got  []measurement
	fail error
}

func (f *fakeMeasurements) HandleMeasurement(_ context.Context, sensorID string, value float64, at time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	f.got = append(f.got, measurement{sensorID, value, at})
	return 1, nil
}

type fakeForecasts struct {
	plans    map[string][]forecast.PlanEntry
	curves   map[string][]forecast.SoCPoint
	shutdown error
}

func newFakeForecasts() *fakeForecasts {
	return &fakeForecasts{
		plans:  make(map[string][]forecast.PlanEntry),
		curves: make(map[string][]forecast.SoCPoint),
	}
}

func (f *fakeForecasts) ScheduleActionPlan(_ context.Context, actionID string, entries []forecast.PlanEntry) (*forecast.PlanResult, error) {
	f.plans[actionID] = entries
	return &forecast.PlanResult{Created: len(entries)}, nil
}

func (f *fakeForecasts) ScheduleThresholdShutdown(_ context.Context, consumerID string, curve []forecast.SoCPoint) (*action.Trigger, error) {
	f.curves[consumerID] = curve
	if f.shutdown != nil {
		return nil, f.shutdown
	}
	return &action.Trigger{ID: "t-" + consumerID}, nil
}

type fakeSubscriber struct {
	topics []string
	fail   string
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	if topic == f.fail {
		return errors.New("refused")
	}
	f.topics = append(f.topics, topic)
	return nil
}

func TestParseReading(t *testing.T) {
	ts := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    float64
		wantAt  time.Time
		wantErr bool
	}{
		{"bare number", "21.5", 21.5, time.Time{}, false},
		{"padded number", "  -3 \n", -3, time.Time{}, false},
		{"object", `{"value": 40}`, 40, time.Time{}, false},
		{"object with timestamp", `{"value": 0, "timestamp": "2026-06-21T12:00:00Z"}`, 0, ts, false},
		{"missing value", `{"timestamp": "2026-06-21T12:00:00Z"}`, 0, time.Time{}, true},
		{"not a number", "warm", 0, time.Time{}, true},
		{"empty", "", 0, time.Time{}, true},
		{"broken json", `{"value":`, 0, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, at, err := parseReading([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("parseReading() error = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReading() error = %v", err)
			}
			if got != tt.want || !at.Equal(tt.wantAt) {
				t.Errorf("parseReading() = (%v, %v), want (%v, %v)", got, at, tt.want, tt.wantAt)
			}
		})
	}
}

func TestStart(t *testing.T) {
	t.Run("readings only without forecasts", func(t *testing.T) {
		sub := &fakeSubscriber{}
		r := NewRouter(testTopics, &fakeMeasurements{}, nil, nil)
		if err := r.Start(context.Background(), sub, 1); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if len(sub.topics) != 1 || sub.topics[0] != "fpf/fpf-001/sensor/+" {
			t.Errorf("subscribed = %v", sub.topics)
		}
	})

	t.Run("all topics", func(t *testing.T) {
		sub := &fakeSubscriber{}
		r := NewRouter(testTopics, &fakeMeasurements{}, newFakeForecasts(), nil)
		if err := r.Start(context.Background(), sub, 1); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if len(sub.topics) != 3 {
			t.Errorf("subscribed = %v, want 3 topics", sub.topics)
		}
	})

	t.Run("subscribe failure", func(t *testing.T) {
		sub := &fakeSubscriber{fail: testTopics.AllForecastSoC()}
		r := NewRouter(testTopics, &fakeMeasurements{}, newFakeForecasts(), nil)
		if err := r.Start(context.Background(), sub, 1); err == nil {
			t.Error("Start() should fail when a subscription is refused")
		}
	})
}

func TestHandleReading(t *testing.T) {
	m := &fakeMeasurements{}
	r := NewRouter(testTopics, m, nil, nil)

	if err := r.HandleReading(testTopics.SensorReading("soil-3"), []byte(`{"value": 17.5}`)); err != nil {
		t.Fatalf("HandleReading() error = %v", err)
	}
	// Malformed payloads and foreign topics are dropped.
	_ = r.HandleReading(testTopics.SensorReading("soil-3"), []byte("nope"))
	_ = r.HandleReading("fpf/other/sensor/soil-3", []byte("1"))

	if len(m.got) != 1 {
		t.Fatalf("measurements = %d, want 1", len(m.got))
	}
	if m.got[0].sensorID != "soil-3" || m.got[0].value != 17.5 || !m.got[0].at.IsZero() {
		t.Errorf("measurement = %+v", m.got[0])
	}

	m.fail = errors.New("db down")
	if err := r.HandleReading(testTopics.SensorReading("soil-3"), []byte("1")); err != nil {
		t.Errorf("HandleReading() should swallow downstream errors, got %v", err)
	}
}

func TestHandlePlan(t *testing.T) {
	f := newFakeForecasts()
	r := NewRouter(testTopics, &fakeMeasurements{}, f, nil)

	payload := `[
		{"timestamp": "2026-06-21T13:00:00Z", "value": "On"},
		{"timestamp": "2026-06-21T14:00:00Z", "value": "Off"}
	]`
	if err := r.HandlePlan(testTopics.ForecastPlan("pump-1"), []byte(payload)); err != nil {
		t.Fatalf("HandlePlan() error = %v", err)
	}
	got := f.plans["pump-1"]
	if len(got) != 2 || got[0].Value != "On" || got[1].Value != "Off" {
		t.Errorf("plan = %+v", got)
	}

	_ = r.HandlePlan(testTopics.ForecastPlan("pump-2"), []byte(`[{"value":"On"}]`))
	if _, ok := f.plans["pump-2"]; ok {
		t.Error("plan without timestamps should be dropped")
	}
}

func TestHandleSoC(t *testing.T) {
	payload := []byte(`[{"timestamp": "2026-06-22T00:00:00Z", "level_wh": 1500}]`)

	tests := []struct {
		name     string
		shutdown error
	}{
		{"scheduled", nil},
		{"already scheduled", forecast.ErrAlreadyScheduled},
		{"no action", forecast.ErrNoConsumerAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeForecasts()
			f.shutdown = tt.shutdown
			r := NewRouter(testTopics, &fakeMeasurements{}, f, nil)

			if err := r.HandleSoC(testTopics.ForecastSoC("heater"), payload); err != nil {
				t.Fatalf("HandleSoC() error = %v", err)
			}
			curve := f.curves["heater"]
			if len(curve) != 1 || curve[0].LevelWh != 1500 {
				t.Errorf("curve = %+v", curve)
			}
		})
	}
}
