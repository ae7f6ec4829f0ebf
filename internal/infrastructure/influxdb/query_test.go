package influxdb

import (
	"strings"
	"testing"
	"time"
)

func TestBuildLatestQuery(t *testing.T) {
	q := buildLatestQuery("readings", "fpf_reading", "value", "entity_id",
		[]string{"battery", `odd"id`}, 15*time.Minute)

	for _, want := range []string{
		`from(bucket: "readings")`,
		`range(start: -900s)`,
		`r._measurement == "fpf_reading" and r._field == "value"`,
		`contains(value: r["entity_id"], set: ["battery", "odd\"id"])`,
		`|> last()`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}

	if !strings.Contains(buildLatestQuery("b", "m", "f", "k", []string{"x"}, 0), "-900s") {
		t.Error("zero lookback should default to 15 minutes")
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{3.5, 3.5, true},
		{int64(7), 7, true},
		{uint64(9), 9, true},
		{true, 1, true},
		{"12", 0, false},
	}
	for _, tt := range tests {
		got, ok := toFloat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("toFloat(%v) = %v, %v", tt.in, got, ok)
		}
	}
}
