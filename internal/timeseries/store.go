package timeseries

import (
	"context"
	"time"
)

// Series names shared by writers and readers.
const (
	// ReadingMeasurement holds raw sensor and meter readings, one series
	// per entity.
	ReadingMeasurement = "fpf_reading"

	// ReadingField is the field carrying the reading value.
	ReadingField = "value"

	// EntityTag identifies the entity a reading belongs to.
	EntityTag = "entity_id"

	// EnergyMeasurement holds the energy engine's periodic samples.
	EnergyMeasurement = "fpf_energy"
)

// Reading is the latest value of one entity.
type Reading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the time-series collaborator of the energy engine and the
// sensor ingestion path.
type Store interface {
	// FetchLatest returns the newest reading for each id that has one.
	FetchLatest(ctx context.Context, ids []string) (map[string]Reading, error)

	// Write records one sample. It does not block on the network.
	Write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

// WriteReading records a raw entity reading.
func WriteReading(s Store, entityID string, value float64, ts time.Time) error {
	return s.Write(ReadingMeasurement,
		map[string]string{EntityTag: entityID},
		map[string]any{ReadingField: value},
		ts,
	)
}

// Noop is a Store with no backend: reads find nothing and writes are dropped.
type Noop struct{}

// FetchLatest implements Store.
func (Noop) FetchLatest(context.Context, []string) (map[string]Reading, error) {
	return map[string]Reading{}, nil
}

// Write implements Store.
func (Noop) Write(string, map[string]string, map[string]any, time.Time) error { return nil }
