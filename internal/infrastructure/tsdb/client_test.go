package tsdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
	"github.com/nerrad567/fpf-core/internal/infrastructure/tsdb"
)

// fakeVM is a minimal VictoriaMetrics stand-in serving /health and /write.
type fakeVM struct {
	*httptest.Server
	mu          sync.Mutex
	lines       []string
	writeStatus int
}

func newFakeVM(t *testing.T) *fakeVM {
	t.Helper()
	vm := &fakeVM{writeStatus: http.StatusNoContent}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		vm.mu.Lock()
		vm.lines = append(vm.lines, strings.Split(string(body), "\n")...)
		status := vm.writeStatus
		vm.mu.Unlock()
		w.WriteHeader(status)
	})
	vm.Server = httptest.NewServer(mux)
	t.Cleanup(vm.Close)
	return vm
}

func (vm *fakeVM) received() []string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]string(nil), vm.lines...)
}

func testConfig(url string) config.TSDBConfig {
	return config.TSDBConfig{
		Enabled:       true,
		URL:           url,
		BatchSize:     100,
		FlushInterval: 60,
	}
}

func TestConnect(t *testing.T) {
	vm := newFakeVM(t)

	client, err := tsdb.Connect(context.Background(), testConfig(vm.URL+"/"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8428")
	cfg.Enabled = false

	client, err := tsdb.Connect(context.Background(), cfg)
	if !errors.Is(err, tsdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() should return nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := tsdb.Connect(context.Background(), testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, tsdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWritePoint_FlushOnClose(t *testing.T) {
	vm := newFakeVM(t)
	client, err := tsdb.Connect(context.Background(), testConfig(vm.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ts := time.Unix(1700000000, 0)
	client.WritePoint("fpf_reading", map[string]string{"entity_id": "battery"}, map[string]any{"value": 6400.5}, ts)
	client.WritePoint("fpf_energy", map[string]string{"deployment_id": "fpf-001"}, nil, ts)

	if got := vm.received(); len(got) != 0 {
		t.Fatalf("lines sent before flush: %v", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got := vm.received()
	want := "fpf_reading,entity_id=battery value=6400.5 1700000000000000000"
	if len(got) != 1 || got[0] != want {
		t.Errorf("lines = %q, want [%q]", got, want)
	}

	// Writes after close are dropped.
	client.WritePoint("fpf_reading", nil, map[string]any{"value": 1.0}, ts)
	client.Flush()
	if len(vm.received()) != 1 {
		t.Error("write after Close() should be dropped")
	}
}

func TestWritePoint_BatchFull(t *testing.T) {
	vm := newFakeVM(t)
	cfg := testConfig(vm.URL)
	cfg.BatchSize = 2
	client, err := tsdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	for i := 0; i < 2; i++ {
		client.WritePoint("fpf_reading", map[string]string{"entity_id": "s"}, map[string]any{"value": float64(i)}, time.Now())
	}
	if got := vm.received(); len(got) != 2 {
		t.Errorf("a full batch should flush immediately, got %d lines", len(got))
	}
}

func TestFlush_ErrorCallback(t *testing.T) {
	vm := newFakeVM(t)
	client, err := tsdb.Connect(context.Background(), testConfig(vm.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	vm.mu.Lock()
	vm.writeStatus = http.StatusBadRequest
	vm.mu.Unlock()

	var mu sync.Mutex
	var got error
	client.SetOnError(func(err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	})

	client.WritePoint("fpf_reading", nil, map[string]any{"value": 1.0}, time.Now())
	client.Flush()

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got, tsdb.ErrWriteFailed) {
		t.Errorf("callback error = %v, want ErrWriteFailed", got)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *tsdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
}
