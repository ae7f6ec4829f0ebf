package timeseries

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store keeping the latest reading per entity and
// the last sample per measurement. It backs tests and deployments without a
// time-series database, where sensor ingestion still needs somewhere to
// leave live values for the energy engine.
type Memory struct {
	mu       sync.RWMutex
	readings map[string]Reading
	samples  map[string]map[string]any
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		readings: make(map[string]Reading),
		samples:  make(map[string]map[string]any),
	}
}

// FetchLatest implements Store.
func (m *Memory) FetchLatest(_ context.Context, ids []string) (map[string]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Reading, len(ids))
	for _, id := range ids {
		if r, ok := m.readings[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// Write implements Store. Readings older than the stored one are ignored.
func (m *Memory) Write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if measurement == ReadingMeasurement {
		id := tags[EntityTag]
		v, ok := fields[ReadingField].(float64)
		if id != "" && ok {
			if prev, seen := m.readings[id]; !seen || !ts.Before(prev.Timestamp) {
				m.readings[id] = Reading{Value: v, Timestamp: ts}
			}
		}
		return nil
	}

	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.samples[measurement] = cp
	return nil
}

// LastSample returns the fields of the last sample written to measurement.
func (m *Memory) LastSample(measurement string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[measurement]
	return s, ok
}
