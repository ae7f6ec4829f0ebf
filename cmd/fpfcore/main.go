// FPF Core - farm action orchestration service
//
// This is the main entry point for FPF Core. It wires the action registry,
// the per-hardware action queue, the trigger scheduler, the energy decision
// engine and the forecast injector behind one REST/WebSocket API, and feeds
// them from MQTT sensor readings and forecast messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fpf-core/migrations"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/api"
	"github.com/nerrad567/fpf-core/internal/energy"
	"github.com/nerrad567/fpf-core/internal/forecast"
	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
	"github.com/nerrad567/fpf-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fpf-core/internal/infrastructure/lock"
	"github.com/nerrad567/fpf-core/internal/infrastructure/logging"
	"github.com/nerrad567/fpf-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fpf-core/internal/infrastructure/tsdb"
	"github.com/nerrad567/fpf-core/internal/ingest"
	"github.com/nerrad567/fpf-core/internal/notify"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/scheduler"
	"github.com/nerrad567/fpf-core/internal/script"
	"github.com/nerrad567/fpf-core/internal/timeseries"
	"github.com/nerrad567/fpf-core/internal/trigger"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FPF Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("deployment", cfg.Deployment.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// ─── Storage ────────────────────────────────────────────────────

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	actions := action.NewRegistry(action.NewSQLiteRepository(db.DB))
	actions.SetLogger(log.Component("actions"))
	actions.SetLogicValidator(trigger.Validate)
	if refreshErr := actions.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading action registry: %w", refreshErr)
	}
	log.Info("action registry initialised", "actions", actions.ActionCount())

	// ─── Messaging ──────────────────────────────────────────────────

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Deployment.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// ─── Time Series ────────────────────────────────────────────────

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to VictoriaMetrics: %w", err)
		}
		defer func() {
			log.Info("closing VictoriaMetrics connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing VictoriaMetrics", "error", closeErr)
			}
		}()
		log.Info("VictoriaMetrics connected", "url", cfg.TSDB.URL)
		tsdbClient.SetOnError(func(err error) {
			log.Error("VictoriaMetrics write error", "error", err)
		})
	} else {
		log.Info("VictoriaMetrics disabled")
	}

	store, err := selectStore(cfg, influxClient, tsdbClient)
	if err != nil {
		return err
	}
	log.Info("time-series backend selected", "backend", cfg.TimeSeries.Backend)

	// ─── Queue ──────────────────────────────────────────────────────

	locker, closeLock, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLock()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	// Auto-off delays live outside the scheduler so scripts can exist
	// before it does.
	delays := scheduler.NewTimers(ctx)
	defer delays.CancelAll()

	scriptDeps := script.Deps{
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.Actions.HTTPTimeout) * time.Second},
		Delayer:    delays,
		Logger:     log.Component("script"),
	}
	if mqttClient != nil {
		scriptDeps.Publisher = mqttClient
	}
	scripts := script.NewRegistry(scriptDeps)
	if regErr := script.RegisterBuiltins(scripts); regErr != nil {
		return fmt.Errorf("registering action scripts: %w", regErr)
	}

	q := queue.NewService(queue.NewSQLiteRepository(db.DB), actions, scripts, queue.Options{
		RunTimeout: cfg.GetRunTimeout(),
		Locker:     locker,
		Hub:        hub,
		Logger:     log.Component("queue"),
	})
	interrupted, err := q.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recovering queue: %w", err)
	}
	if interrupted > 0 {
		log.Warn("failed queue entries interrupted by restart", "count", interrupted)
	}

	// ─── Scheduling ─────────────────────────────────────────────────

	sched := scheduler.New(actions, q, scheduler.Options{
		Location: cfg.Location(),
		Store:    store,
		Logger:   log.Component("scheduler"),
	})
	actions.OnTriggerChange(sched.OnTriggerChange)
	actions.OnActionChange(sched.OnActionChange)
	if startErr := sched.Start(ctx); startErr != nil {
		return fmt.Errorf("starting scheduler: %w", startErr)
	}
	defer sched.Stop()

	// ─── Energy & Forecast ──────────────────────────────────────────

	energyRepo := energy.NewSQLiteRepository(db.DB)
	driver := energy.NewDriver(energyRepo, actions, q, energy.Options{
		Defaults: defaultEnergySettings(cfg),
		Store:    store,
		Weather: &energy.StoreWeather{
			Store:            store,
			SunshineEntityID: cfg.Energy.SunshineEntityID,
			WindEntityID:     cfg.Energy.WindSpeedEntityID,
		},
		Notifier: buildNotifier(cfg, mqttClient, log),
		Hub:      hub,
		Logger:   log.Component("energy"),
	})

	injector := forecast.NewInjector(actions, q, energyRepo, driver, sched.Timers(), forecast.Options{Logger: log.Component("forecast")})
	armed, err := injector.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reloading forecast triggers: %w", err)
	}
	log.Info("forecast triggers armed", "count", armed)

	if jobErr := installJobs(cfg, sched, q, driver, log); jobErr != nil {
		return fmt.Errorf("installing jobs: %w", jobErr)
	}

	// ─── Ingestion & API ────────────────────────────────────────────

	if mqttClient != nil {
		router := ingest.NewRouter(mqttClient.Topics(), sched, injector, log.Component("ingest"))
		if subErr := router.Start(ctx, mqttClient, byte(cfg.MQTT.QoS)); subErr != nil {
			return fmt.Errorf("starting MQTT ingestion: %w", subErr)
		}
		log.Info("MQTT ingestion started", "sensors", mqttClient.Topics().AllSensorReadings())
	}

	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		DB:          db,
		Actions:     actions,
		Queue:       q,
		Scripts:     scripts,
		Energy:      energyRepo,
		Driver:      driver,
		Forecast:    injector,
		Sensors:     sched,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, scheduler, timers,
	// lock, time-series clients, MQTT, database.

	log.Info("FPF Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FPF_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FPF_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// selectStore returns the time-series store named by timeseries.backend.
func selectStore(cfg *config.Config, influxClient *influxdb.Client, tsdbClient *tsdb.Client) (timeseries.Store, error) {
	lookback := time.Duration(cfg.TimeSeries.LookbackMinutes) * time.Minute

	switch cfg.TimeSeries.Backend {
	case "influxdb":
		if influxClient == nil {
			return nil, errors.New("timeseries backend influxdb requires influxdb.enabled")
		}
		return &timeseries.Influx{Client: influxClient, Lookback: lookback}, nil
	case "tsdb":
		if tsdbClient == nil {
			return nil, errors.New("timeseries backend tsdb requires tsdb.enabled")
		}
		return &timeseries.Victoria{Client: tsdbClient, Lookback: lookback}, nil
	case "memory":
		return timeseries.NewMemory(), nil
	case "", "none":
		return timeseries.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown timeseries backend %q", cfg.TimeSeries.Backend)
	}
}

// openLocker returns the queue pass lock and its cleanup.
func openLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	r, err := lock.NewRedis(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting queue lock: %w", err)
	}
	return r, func() { r.Close() }, nil //nolint:errcheck // Shutdown path
}

// defaultEnergySettings builds the settings used by deployments that have
// none stored.
func defaultEnergySettings(cfg *config.Config) energy.Settings {
	s := energy.Settings{
		DeploymentID:              cfg.Deployment.ID,
		BatteryMaxWh:              cfg.Energy.BatteryMaxWh,
		GridConnectThreshold:      cfg.Energy.GridConnectThreshold,
		ShutdownThreshold:         cfg.Energy.ShutdownThreshold,
		WarningThreshold:          cfg.Energy.WarningThreshold,
		GridDisconnectThreshold:   cfg.Energy.GridDisconnectThreshold,
		CriticalPriorityThreshold: cfg.Energy.CriticalPriorityThreshold,
		Latitude:                  cfg.Deployment.Location.Latitude,
		Longitude:                 cfg.Deployment.Location.Longitude,
	}
	if id := cfg.Energy.BatteryEntityID; id != "" {
		s.BatteryEntityID = &id
	}
	return s
}

// buildNotifier fans energy notifications out to the log, Slack and MQTT.
func buildNotifier(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) notify.Notifier {
	sinks := []notify.Notifier{notify.NewLog(log)}
	if cfg.Notifications.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlack(cfg.Notifications.SlackWebhookURL, cfg.Notifications.SlackChannel, nil))
	}
	if mqttClient != nil {
		topic := cfg.Notifications.MQTTTopic
		if topic == "" {
			topic = mqttClient.Topics().Notifications()
		}
		sinks = append(sinks, notify.NewMQTT(mqttClient, topic))
	}
	return notify.NewMulti(log, sinks...)
}

// installJobs registers the recurring maintenance jobs.
func installJobs(cfg *config.Config, sched *scheduler.Scheduler, q *queue.Service, driver *energy.Driver, log *logging.Logger) error {
	if d := time.Duration(cfg.Scheduler.QueueSweepInterval) * time.Second; d > 0 {
		sched.Every("queue-sweep", d, func(ctx context.Context) {
			q.Process(ctx)
		})
	}

	if cfg.Energy.Enabled && cfg.Energy.CheckInterval > 0 {
		sched.Every("energy-check", time.Duration(cfg.Energy.CheckInterval)*time.Second, func(ctx context.Context) {
			if _, err := driver.Check(ctx, cfg.Deployment.ID); err != nil {
				if errors.Is(err, energy.ErrNoBatteryReading) {
					log.Debug("energy check skipped", "reason", err)
					return
				}
				log.Error("energy check failed", "error", err)
			}
		})
	}

	if cfg.Scheduler.RetentionDays > 0 {
		retention := time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour
		return sched.AddCron("queue-retention", cfg.Scheduler.RetentionSchedule, func(ctx context.Context) {
			if _, err := q.Cleanup(ctx, retention); err != nil {
				log.Error("queue retention cleanup failed", "error", err)
			}
		})
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy. Clients
// that are disabled are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("tsdb: %w", err)
		}
	}
	return nil
}
