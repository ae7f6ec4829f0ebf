package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for FPF Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Deployment    DeploymentConfig    `yaml:"deployment"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	TSDB          TSDBConfig          `yaml:"tsdb"`
	TimeSeries    TimeSeriesConfig    `yaml:"timeseries"`
	Logging       LoggingConfig       `yaml:"logging"`
	Energy        EnergyConfig        `yaml:"energy"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Actions       ActionsConfig       `yaml:"actions"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Lock          LockConfig          `yaml:"lock"`
}

// DeploymentConfig identifies the farm this instance manages.
type DeploymentConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates for astronomical calculations.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TimeSeriesConfig selects which time-series backend feeds the energy engine.
type TimeSeriesConfig struct {
	// Backend is "influxdb", "tsdb", "memory" or "none". The memory
	// backend keeps only the latest reading per entity in process.
	Backend string `yaml:"backend"`
	// LookbackMinutes bounds how old a "latest" reading may be.
	LookbackMinutes int `yaml:"lookback_minutes"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EnergyConfig contains the default thresholds applied to deployments that
// have no stored energy settings yet.
type EnergyConfig struct {
	Enabled                   bool    `yaml:"enabled"`
	CheckInterval             int     `yaml:"check_interval"`
	BatteryMaxWh              float64 `yaml:"battery_max_wh"`
	GridConnectThreshold      float64 `yaml:"grid_connect_threshold"`
	ShutdownThreshold         float64 `yaml:"shutdown_threshold"`
	WarningThreshold          float64 `yaml:"warning_threshold"`
	GridDisconnectThreshold   float64 `yaml:"grid_disconnect_threshold"`
	CriticalPriorityThreshold int     `yaml:"critical_priority_threshold"`
	BatteryEntityID           string  `yaml:"battery_entity_id"`
	// Weather entities feed the solar and wind estimates. Empty disables
	// the adjustment.
	SunshineEntityID  string `yaml:"sunshine_entity_id"`
	WindSpeedEntityID string `yaml:"wind_speed_entity_id"`
}

// SchedulerConfig contains background job settings.
type SchedulerConfig struct {
	QueueSweepInterval int `yaml:"queue_sweep_interval"`
	RetentionDays      int `yaml:"retention_days"`
	// RetentionSchedule is a cron expression for the cleanup job.
	RetentionSchedule string `yaml:"retention_schedule"`
}

// ActionsConfig contains action script execution settings.
type ActionsConfig struct {
	// RunTimeout bounds a single script run in seconds. 0 disables the bound.
	RunTimeout int `yaml:"run_timeout"`
	// HTTPTimeout bounds each HTTP request made by a script in seconds.
	HTTPTimeout int `yaml:"http_timeout"`
}

// NotificationsConfig contains notification sink settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
	MQTTTopic       string `yaml:"mqtt_topic"`
}

// LockConfig selects the queue pass lock. An empty Redis address keeps the
// lock in-process.
type LockConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           int    `yaml:"ttl"`
}

// Load builds the configuration in layers: defaults, then the YAML file at
// path, then FPF_* environment variables (a .env file in the working
// directory may supply them). The result is validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// godotenv never overwrites variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Deployment: DeploymentConfig{
			ID:       "fpf-001",
			Name:     "FPF",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/fpfcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fpf-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		TSDB: TSDBConfig{
			BatchSize:     500,
			FlushInterval: 10,
		},
		TimeSeries: TimeSeriesConfig{
			Backend:         "none",
			LookbackMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Energy: EnergyConfig{
			Enabled:                   true,
			CheckInterval:             60,
			BatteryMaxWh:              10000,
			GridConnectThreshold:      20,
			ShutdownThreshold:         10,
			WarningThreshold:          30,
			GridDisconnectThreshold:   50,
			CriticalPriorityThreshold: 2,
		},
		Scheduler: SchedulerConfig{
			QueueSweepInterval: 30,
			RetentionDays:      30,
			RetentionSchedule:  "0 3 * * *",
		},
		Actions: ActionsConfig{
			RunTimeout:  60,
			HTTPTimeout: 10,
		},
		Lock: LockConfig{
			TTL: 120,
		},
	}
}

// envOverrides maps FPF_* variables onto config fields. Secrets belong
// here rather than in the YAML file.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"FPF_DEPLOYMENT_ID":     &cfg.Deployment.ID,
		"FPF_DATABASE_PATH":     &cfg.Database.Path,
		"FPF_MQTT_HOST":         &cfg.MQTT.Broker.Host,
		"FPF_MQTT_USERNAME":     &cfg.MQTT.Auth.Username,
		"FPF_MQTT_PASSWORD":     &cfg.MQTT.Auth.Password,
		"FPF_API_HOST":          &cfg.API.Host,
		"FPF_INFLUXDB_TOKEN":    &cfg.InfluxDB.Token,
		"FPF_TSDB_URL":          &cfg.TSDB.URL,
		"FPF_SLACK_WEBHOOK_URL": &cfg.Notifications.SlackWebhookURL,
		"FPF_REDIS_ADDR":        &cfg.Lock.RedisAddr,
		"FPF_REDIS_PASSWORD":    &cfg.Lock.RedisPassword,
	}
}

// applyEnvOverrides copies non-empty FPF_* variables into cfg. An
// unparseable FPF_API_PORT is ignored.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}
	if port, err := strconv.Atoi(os.Getenv("FPF_API_PORT")); err == nil {
		cfg.API.Port = port
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string

	if c.Deployment.ID == "" {
		errs = append(errs, "deployment.id is required")
	}
	if c.Deployment.Timezone != "" {
		if _, err := time.LoadLocation(c.Deployment.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("deployment.timezone %q is invalid", c.Deployment.Timezone))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.TimeSeries.Backend {
	case "", "none", "memory":
	case "influxdb":
		if !c.InfluxDB.Enabled {
			errs = append(errs, "timeseries.backend is influxdb but influxdb.enabled is false")
		}
	case "tsdb":
		if !c.TSDB.Enabled {
			errs = append(errs, "timeseries.backend is tsdb but tsdb.enabled is false")
		}
	default:
		errs = append(errs, "timeseries.backend must be influxdb, tsdb, memory or none")
	}

	errs = append(errs, c.Energy.validate()...)

	if c.Scheduler.RetentionDays < 0 {
		errs = append(errs, "scheduler.retention_days must not be negative")
	}
	if c.Actions.RunTimeout < 0 {
		errs = append(errs, "actions.run_timeout must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (e EnergyConfig) validate() []string {
	var errs []string
	if e.BatteryMaxWh <= 0 {
		errs = append(errs, "energy.battery_max_wh must be positive")
	}
	for name, v := range map[string]float64{
		"grid_connect_threshold":    e.GridConnectThreshold,
		"shutdown_threshold":        e.ShutdownThreshold,
		"warning_threshold":         e.WarningThreshold,
		"grid_disconnect_threshold": e.GridDisconnectThreshold,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("energy.%s must be between 0 and 100", name))
		}
	}
	if e.CheckInterval < 1 {
		errs = append(errs, "energy.check_interval must be at least 1 second")
	}
	return errs
}

// GetRunTimeout returns the action script run bound, zero when unbounded.
func (c *Config) GetRunTimeout() time.Duration {
	return time.Duration(c.Actions.RunTimeout) * time.Second
}

// Location returns the deployment's time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Deployment.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
