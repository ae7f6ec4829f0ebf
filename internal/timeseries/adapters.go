package timeseries

import (
	"context"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fpf-core/internal/infrastructure/tsdb"
)

// Influx adapts an InfluxDB client to Store.
type Influx struct {
	Client   *influxdb.Client
	Lookback time.Duration
}

// FetchLatest implements Store with a Flux last() query.
func (s *Influx) FetchLatest(ctx context.Context, ids []string) (map[string]Reading, error) {
	points, err := s.Client.LatestByTag(ctx, ReadingMeasurement, ReadingField, EntityTag, ids, s.Lookback)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Reading, len(points))
	for id, p := range points {
		out[id] = Reading{Value: p.Value, Timestamp: p.Time}
	}
	return out, nil
}

// Write implements Store.
func (s *Influx) Write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if !s.Client.IsConnected() {
		return influxdb.ErrNotConnected
	}
	s.Client.WritePoint(measurement, tags, fields, ts)
	return nil
}

// Victoria adapts a VictoriaMetrics client to Store.
type Victoria struct {
	Client   *tsdb.Client
	Lookback time.Duration
}

// FetchLatest implements Store with a last_over_time instant query.
func (s *Victoria) FetchLatest(ctx context.Context, ids []string) (map[string]Reading, error) {
	samples, err := s.Client.LatestByLabel(ctx, ReadingMeasurement+"_"+ReadingField, EntityTag, ids, s.Lookback)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Reading, len(samples))
	for id, sm := range samples {
		out[id] = Reading{Value: sm.Value, Timestamp: sm.Time}
	}
	return out, nil
}

// Write implements Store.
func (s *Victoria) Write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if !s.Client.IsConnected() {
		return tsdb.ErrNotConnected
	}
	s.Client.WritePoint(measurement, tags, fields, ts)
	return nil
}
