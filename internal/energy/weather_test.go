package energy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nerrad567/fpf-core/internal/timeseries"
)

func TestWindOutput(t *testing.T) {
	tests := []struct {
		speed float64
		want  float64
	}{
		{0, 0},
		{2.9, 0},
		{3, 0},
		{7.5, 500},
		{12, 1000},
		{20, 1000},
		{25, 1000},
		{25.1, 0},
	}
	for _, tt := range tests {
		if got := WindOutput(1000, tt.speed); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("WindOutput(1000, %v) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestSolarOutput(t *testing.T) {
	// London, midsummer.
	lat, lon := 51.5, -0.12
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 6, 21, 0, 30, 0, 0, time.UTC)

	if got := SolarOutput(4000, 8, midnight, lat, lon); got != 0 {
		t.Errorf("SolarOutput at night = %v, want 0", got)
	}

	half := SolarOutput(4000, 8, noon, lat, lon)
	if half <= 0 || half >= 4000 {
		t.Errorf("SolarOutput(8h sun) = %v, want between 0 and capacity", half)
	}
	if full := SolarOutput(4000, 24, noon, lat, lon); full != 4000 {
		t.Errorf("SolarOutput(24h sun) = %v, want capacity", full)
	}
	if none := SolarOutput(4000, 0, noon, lat, lon); none != 0 {
		t.Errorf("SolarOutput(0h sun) = %v, want 0", none)
	}
}

func TestDaylight(t *testing.T) {
	day := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	sunrise, sunset, ok := daylight(day, 51.5, -0.12)
	if !ok {
		t.Fatal("daylight() found no sunrise in London at midsummer")
	}
	if sunrise.Hour() < 3 || sunrise.Hour() > 4 {
		t.Errorf("sunrise = %v, want around 03:43 UTC", sunrise)
	}
	if sunset.Hour() < 20 || sunset.Hour() > 21 {
		t.Errorf("sunset = %v, want around 20:21 UTC", sunset)
	}
	if length := sunset.Sub(sunrise); length < 16*time.Hour || length > 17*time.Hour {
		t.Errorf("day length = %v, want about 16h38m", length)
	}
}

func TestApplyWeather(t *testing.T) {
	sources := []Source{
		{ID: "pv", Type: SourceSolar, CapacityW: 4000, ProductionW: 1234},
		{ID: "wt", Type: SourceWind, CapacityW: 1000, ProductionW: 1234},
		{ID: "gen", Type: SourceGenerator, CapacityW: 5000, ProductionW: 1234},
	}
	night := time.Date(2026, 6, 21, 0, 30, 0, 0, time.UTC)
	applyWeather(sources, Weather{SunshineHours: ptr(6.0), WindSpeedMS: ptr(12.0)}, night, 51.5, -0.12)

	if sources[0].ProductionW != 0 {
		t.Errorf("solar at night = %v, want 0", sources[0].ProductionW)
	}
	if sources[1].ProductionW != 1000 {
		t.Errorf("wind at rated speed = %v, want 1000", sources[1].ProductionW)
	}
	if sources[2].ProductionW != 1234 {
		t.Errorf("generator changed to %v", sources[2].ProductionW)
	}
}

func TestStoreWeather(t *testing.T) {
	store := timeseries.NewMemory()
	now := time.Now()
	if err := timeseries.WriteReading(store, "weather.sunshine", 5.5, now); err != nil {
		t.Fatalf("WriteReading: %v", err)
	}

	w := &StoreWeather{Store: store, SunshineEntityID: "weather.sunshine", WindEntityID: "weather.wind"}
	got, err := w.Current(context.Background(), "fpf-001")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.SunshineHours == nil || *got.SunshineHours != 5.5 {
		t.Errorf("SunshineHours = %v, want 5.5", got.SunshineHours)
	}
	if got.WindSpeedMS != nil {
		t.Errorf("WindSpeedMS = %v, want nil", *got.WindSpeedMS)
	}

	empty, err := (&StoreWeather{Store: store}).Current(context.Background(), "fpf-001")
	if err != nil || empty.SunshineHours != nil || empty.WindSpeedMS != nil {
		t.Errorf("Current() without entities = %+v, %v", empty, err)
	}
}
