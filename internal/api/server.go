package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/energy"
	"github.com/nerrad567/fpf-core/internal/forecast"
	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
	"github.com/nerrad567/fpf-core/internal/infrastructure/logging"
	"github.com/nerrad567/fpf-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/script"
)

const shutdownTimeout = 10 * time.Second

// MeasurementHandler accepts sensor readings.
type MeasurementHandler interface {
	HandleMeasurement(ctx context.Context, sensorID string, value float64, at time.Time) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	DB      *database.DB
	Actions *action.Registry
	Queue   *queue.Service
	Scripts *script.Registry

	// Optional components.
	Energy   energy.Repository
	Driver   *energy.Driver
	Forecast *forecast.Injector
	Sensors  MeasurementHandler
	MQTT     *mqtt.Client

	// ExternalHub is shared with the queue and energy driver so they can
	// broadcast. Without it the server runs a private hub.
	ExternalHub *Hub
	Version     string
}

// Server serves the REST API under /api/v1, the WebSocket event stream
// and the Prometheus endpoint.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	db        *database.DB
	actions   *action.Registry
	queue     *queue.Service
	scripts   *script.Registry
	energy    energy.Repository
	driver    *energy.Driver
	forecast  *forecast.Injector
	sensors   MeasurementHandler
	mqtt      *mqtt.Client
	hub       *Hub
	version   string
	startTime time.Time

	server *http.Server
	stop   context.CancelFunc
}

// New checks the required dependencies and builds a server. Nothing
// listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Actions == nil:
		return nil, errors.New("api: action registry is required")
	case deps.Queue == nil:
		return nil, errors.New("api: queue service is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		db:        deps.DB,
		actions:   deps.Actions,
		queue:     deps.Queue,
		scripts:   deps.Scripts,
		energy:    deps.Energy,
		driver:    deps.Driver,
		forecast:  deps.Forecast,
		sensors:   deps.Sensors,
		mqtt:      deps.MQTT,
		hub:       deps.ExternalHub,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listen address and serves in the background. A bind
// failure (port in use, bad host) is returned here rather than logged
// later.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.stop = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(ctx)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.stop()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       seconds(s.cfg.Timeouts.Idle),
	}

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var serveErr error
		if tls.Enabled {
			serveErr = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			serveErr = s.server.Serve(ln)
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", serveErr)
		}
	}()
	return nil
}

// Close stops accepting requests and waits up to ten seconds for
// in-flight ones.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
