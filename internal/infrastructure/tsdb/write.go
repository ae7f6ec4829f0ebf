package tsdb

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// WritePoint buffers one point in line protocol. VictoriaMetrics stores each
// field as the series <measurement>_<field> labelled with the tags.
//
// Example:
//
//	client.WritePoint("fpf_reading",
//	    map[string]string{"entity_id": "battery"},
//	    map[string]any{"value": 6400.0},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 || !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	if c.buffer(formatLineProtocol(measurement, tags, fields, ts)) {
		c.Flush()
	}
}

// formatLineProtocol renders
// measurement,tag1=val1 field1=val1,field2=val2 timestamp_ns
// with tags and fields sorted for deterministic output.
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]any, t time.Time) string {
	var b strings.Builder
	b.WriteString(escapeMeasurement(measurement))

	for _, k := range sortedKeys(tags) {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	b.WriteByte(' ')
	for i, k := range sortedKeys(fields) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(formatField(fields[k]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(t.UnixNano(), 10))
	return b.String()
}

func formatField(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int:
		return strconv.Itoa(val) + "i"
	case int64:
		return strconv.FormatInt(val, 10) + "i"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return strconv.Quote(val)
	default:
		return strconv.Quote("")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escapeTag escapes commas, equals signs and spaces, and strips newlines so
// a value cannot inject extra lines.
func escapeTag(s string) string {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return strings.NewReplacer(" ", `\ `, ",", `\,`, "=", `\=`).Replace(s)
}

// escapeMeasurement escapes commas and spaces and strips newlines.
func escapeMeasurement(s string) string {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return strings.NewReplacer(" ", `\ `, ",", `\,`).Replace(s)
}
