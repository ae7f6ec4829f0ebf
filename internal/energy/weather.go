package energy

import (
	"context"
	"fmt"
	"time"

	"github.com/sj14/astral/pkg/astral"

	"github.com/nerrad567/fpf-core/internal/timeseries"
)

// Wind turbine power curve, m/s.
const (
	windCutIn   = 3.0
	windRated   = 12.0
	windCutOut  = 25.0
	hoursPerDay = 24.0
)

// Weather is the current outlook used to adjust solar and wind output.
// Nil fields leave the static production figures untouched.
type Weather struct {
	SunshineHours *float64 `json:"sunshine_hours,omitempty"`
	WindSpeedMS   *float64 `json:"wind_speed_ms,omitempty"`
}

// SolarOutput estimates solar production: capacity scaled by the share of
// daylight that is sunny, and zero outside sunrise..sunset at the given
// coordinates.
func SolarOutput(capacityW, sunshineHours float64, at time.Time, lat, lon float64) float64 {
	sunrise, sunset, ok := daylight(at, lat, lon)
	if !ok || at.Before(sunrise) || !at.Before(sunset) {
		return 0
	}
	daylightHours := sunset.Sub(sunrise).Hours()
	if daylightHours <= 0 || sunshineHours <= 0 {
		return 0
	}
	return capacityW * min(1, sunshineHours/daylightHours)
}

// daylight returns the sunrise and sunset of at's local day.
func daylight(at time.Time, lat, lon float64) (time.Time, time.Time, bool) {
	observer := astral.Observer{
		Latitude:  lat,
		Longitude: lon,
		Elevation: 0.0,
	}
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())

	sunrise, err := astral.Sunrise(observer, midnight)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	sunset, err := astral.Sunset(observer, midnight)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if !sunset.After(sunrise) {
		// Sunset falls on the next UTC day for western longitudes.
		sunset = sunset.Add(hoursPerDay * time.Hour)
	}
	return sunrise, sunset, true
}

// WindOutput estimates wind production from the turbine power curve: zero
// below cut-in, linear to capacity at rated speed, capacity up to cut-out,
// zero above cut-out.
func WindOutput(capacityW, speedMS float64) float64 {
	switch {
	case speedMS < windCutIn || speedMS > windCutOut:
		return 0
	case speedMS >= windRated:
		return capacityW
	default:
		return capacityW * (speedMS - windCutIn) / (windRated - windCutIn)
	}
}

// applyWeather replaces static production of solar and wind sources with
// weather-based estimates.
func applyWeather(sources []Source, w Weather, at time.Time, lat, lon float64) {
	for i := range sources {
		src := &sources[i]
		switch {
		case src.Type == SourceSolar && w.SunshineHours != nil:
			src.ProductionW = SolarOutput(src.CapacityW, *w.SunshineHours, at, lat, lon)
		case src.Type == SourceWind && w.WindSpeedMS != nil:
			src.ProductionW = WindOutput(src.CapacityW, *w.WindSpeedMS)
		}
	}
}

// StoreWeather reads the weather outlook from time-series entities.
type StoreWeather struct {
	Store            timeseries.Store
	SunshineEntityID string
	WindEntityID     string
}

// Current returns the latest sunshine hours and wind speed. Missing readings
// leave the matching field nil.
func (w *StoreWeather) Current(ctx context.Context, _ string) (Weather, error) {
	var ids []string
	for _, id := range []string{w.SunshineEntityID, w.WindEntityID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || w.Store == nil {
		return Weather{}, nil
	}

	readings, err := w.Store.FetchLatest(ctx, ids)
	if err != nil {
		return Weather{}, fmt.Errorf("fetching weather readings: %w", err)
	}

	var out Weather
	if r, ok := readings[w.SunshineEntityID]; ok && w.SunshineEntityID != "" {
		v := r.Value
		out.SunshineHours = &v
	}
	if r, ok := readings[w.WindEntityID]; ok && w.WindEntityID != "" {
		v := r.Value
		out.WindSpeedMS = &v
	}
	return out, nil
}
