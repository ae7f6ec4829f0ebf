package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
	"github.com/nerrad567/fpf-core/internal/timeseries"
)

// writeConfig writes a minimal config with MQTT and time-series backends
// disabled and points FPF_CONFIG at it.
func writeConfig(t *testing.T, dbPath string, port int) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
deployment:
  id: test-farm
  timezone: UTC

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

timeseries:
  backend: memory

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: ` + strconv.Itoa(port) + `
  timeouts:
    read: 5
    write: 5
    idle: 5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("FPF_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("FPF_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, "", 18091)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_StartupAndShutdown starts the service without external
// dependencies and stops it through context cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, dbPath, 18092)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("FPF_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("FPF_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestSelectStore(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
		check   func(timeseries.Store) bool
	}{
		{"none", false, func(s timeseries.Store) bool { _, ok := s.(timeseries.Noop); return ok }},
		{"", false, func(s timeseries.Store) bool { _, ok := s.(timeseries.Noop); return ok }},
		{"memory", false, func(s timeseries.Store) bool { _, ok := s.(*timeseries.Memory); return ok }},
		{"influxdb", true, nil},
		{"tsdb", true, nil},
		{"graphite", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{TimeSeries: config.TimeSeriesConfig{Backend: tt.backend, LookbackMinutes: 5}}
			store, err := selectStore(cfg, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(store) {
				t.Errorf("selectStore() = %T", store)
			}
		})
	}
}

func TestDefaultEnergySettings(t *testing.T) {
	cfg := &config.Config{
		Deployment: config.DeploymentConfig{
			ID:       "farm-7",
			Location: config.LocationConfig{Latitude: 52.1, Longitude: -1.5},
		},
		Energy: config.EnergyConfig{
			BatteryMaxWh:              12000,
			ShutdownThreshold:         10,
			CriticalPriorityThreshold: 3,
		},
	}

	s := defaultEnergySettings(cfg)
	if s.DeploymentID != "farm-7" || s.BatteryMaxWh != 12000 || s.Latitude != 52.1 {
		t.Errorf("settings = %+v", s)
	}
	if s.BatteryEntityID != nil {
		t.Errorf("BatteryEntityID = %v, want nil", *s.BatteryEntityID)
	}

	cfg.Energy.BatteryEntityID = "sensor.battery_wh"
	s = defaultEnergySettings(cfg)
	if s.BatteryEntityID == nil || *s.BatteryEntityID != "sensor.battery_wh" {
		t.Errorf("BatteryEntityID = %v", s.BatteryEntityID)
	}
}
