package tsdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestClient creates a client bound to the test server without a flush loop.
func newTestClient(server *httptest.Server) *Client {
	c := &Client{
		url:        server.URL,
		httpClient: server.Client(),
		batchSize:  10,
	}
	c.connected.Store(true)
	return c
}

func TestLatestByLabel(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("path = %q, want /api/v1/query", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[
			{"metric":{"__name__":"fpf_reading_value","entity_id":"battery"},"value":[1700000000.5,"6400.25"]},
			{"metric":{"entity_id":"solar"},"value":[1700000001,"not-a-number"]},
			{"metric":{"other":"x"},"value":[1700000001,"1"]}
		]}}`)) //nolint:errcheck // test server
	}))
	defer server.Close()

	client := newTestClient(server)
	got, err := client.LatestByLabel(context.Background(), "fpf_reading_value", "entity_id", []string{"battery", "solar.1"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("LatestByLabel() error = %v", err)
	}

	wantQuery := `last_over_time(fpf_reading_value{entity_id=~"battery|solar\\.1"}[600s])`
	if gotQuery != wantQuery {
		t.Errorf("query = %s, want %s", gotQuery, wantQuery)
	}
	if len(got) != 1 {
		t.Fatalf("samples = %v, want only battery", got)
	}
	b := got["battery"]
	if b.Value != 6400.25 || b.Time.Unix() != 1700000000 || b.Time.Nanosecond() != 500000000 {
		t.Errorf("battery = %+v", b)
	}
}

func TestLatestByLabel_Empty(t *testing.T) {
	client := &Client{}
	got, err := client.LatestByLabel(context.Background(), "m", "l", nil, time.Minute)
	if err != nil || len(got) != 0 {
		t.Errorf("LatestByLabel(no values) = %v, %v", got, err)
	}
}

func TestQueryInstant_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	client := newTestClient(server)

	if _, err := client.QueryInstant(context.Background(), "up"); !errors.Is(err, ErrQueryFailed) {
		t.Errorf("503 error = %v, want ErrQueryFailed", err)
	}
	if _, err := client.QueryInstant(context.Background(), "  "); !errors.Is(err, ErrQueryFailed) {
		t.Errorf("empty query error = %v", err)
	}

	client.connected.Store(false)
	if _, err := client.QueryInstant(context.Background(), "up"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
}

func TestParseVector_ErrorStatus(t *testing.T) {
	_, err := parseVector([]byte(`{"status":"error","error":"bad query"}`), "entity_id")
	if !errors.Is(err, ErrQueryFailed) || !strings.Contains(err.Error(), "bad query") {
		t.Errorf("parseVector() error = %v", err)
	}
}

func TestQueryInstant_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server).QueryInstant(ctx, "up")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestFormatLineProtocol(t *testing.T) {
	ts := time.Unix(0, 42)
	tests := []struct {
		name   string
		meas   string
		tags   map[string]string
		fields map[string]any
		want   string
	}{
		{
			"sorted tags and fields",
			"fpf_energy",
			map[string]string{"deployment_id": "fpf-001", "b": "x"},
			map[string]any{"net_w": -120.5, "battery_pct": 64.0},
			"fpf_energy,b=x,deployment_id=fpf-001 battery_pct=64,net_w=-120.5 42",
		},
		{
			"escaping",
			"my meas,x",
			map[string]string{"entity id": "a=b,c\nd"},
			map[string]any{"ok": true, "n": 3, "s": `q"t`},
			`my\ meas\,x,entity\ id=a\=b\,cd n=3i,ok=true,s="q\"t" 42`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLineProtocol(tt.meas, tt.tags, tt.fields, ts); got != tt.want {
				t.Errorf("formatLineProtocol() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
