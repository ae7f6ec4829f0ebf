package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Point is the latest value of one series.
type Point struct {
	Value float64
	Time  time.Time
}

// LatestByTag returns the newest value of field in measurement for each
// tagKey value in tagValues, looking back at most lookback. Series without a
// point in the window are absent from the result.
func (c *Client) LatestByTag(ctx context.Context, measurement, field, tagKey string, tagValues []string, lookback time.Duration) (map[string]Point, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if len(tagValues) == 0 {
		return map[string]Point{}, nil
	}

	result, err := c.queryAPI.Query(ctx, buildLatestQuery(c.bucket, measurement, field, tagKey, tagValues, lookback))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	out := make(map[string]Point, len(tagValues))
	for result.Next() {
		rec := result.Record()
		key, ok := rec.ValueByKey(tagKey).(string)
		if !ok {
			continue
		}
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		if prev, seen := out[key]; seen && prev.Time.After(rec.Time()) {
			continue
		}
		out[key] = Point{Value: v, Time: rec.Time()}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return out, nil
}

// buildLatestQuery renders the Flux query used by LatestByTag.
func buildLatestQuery(bucket, measurement, field, tagKey string, tagValues []string, lookback time.Duration) string {
	if lookback <= 0 {
		lookback = 15 * time.Minute
	}
	values := make([]string, len(tagValues))
	for i, v := range tagValues {
		values[i] = fluxString(v)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: -%ds)\n", int64(lookback/time.Second))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s and r._field == %s)\n", fluxString(measurement), fluxString(field))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => contains(value: r[%s], set: [%s]))\n", fluxString(tagKey), strings.Join(values, ", "))
	b.WriteString("  |> last()")
	return b.String()
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	return strconv.Quote(s)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
