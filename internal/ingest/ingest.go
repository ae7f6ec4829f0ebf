package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/forecast"
	"github.com/nerrad567/fpf-core/internal/infrastructure/mqtt"
)

// handlerTimeout bounds the work done for one inbound message.
const handlerTimeout = 30 * time.Second

// Subscriber is the MQTT client surface the router needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Measurements consumes sensor readings.
type Measurements interface {
	HandleMeasurement(ctx context.Context, sensorID string, value float64, at time.Time) (int, error)
}

// Forecasts consumes forecasting service output.
type Forecasts interface {
	ScheduleActionPlan(ctx context.Context, actionID string, entries []forecast.PlanEntry) (*forecast.PlanResult, error)
	ScheduleThresholdShutdown(ctx context.Context, consumerID string, curve []forecast.SoCPoint) (*action.Trigger, error)
}

// Logger defines the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Router subscribes to a deployment's inbound topics and dispatches
// messages. Handlers never return errors to the MQTT client: a bad message
// is logged and dropped.
type Router struct {
	topics       mqtt.Topics
	measurements Measurements
	forecasts    Forecasts
	logger       Logger
	ctx          context.Context
}

// NewRouter creates a Router. forecasts may be nil, in which case only
// sensor readings are subscribed.
func NewRouter(topics mqtt.Topics, measurements Measurements, forecasts Forecasts, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		topics:       topics,
		measurements: measurements,
		forecasts:    forecasts,
		logger:       logger,
		ctx:          context.Background(),
	}
}

type route struct {
	topic   string
	handler mqtt.MessageHandler
}

// Start subscribes to the inbound topics. ctx bounds the lifetime of the
// work started by handlers.
func (r *Router) Start(ctx context.Context, sub Subscriber, qos byte) error {
	r.ctx = ctx

	subs := []route{{r.topics.AllSensorReadings(), r.HandleReading}}
	if r.forecasts != nil {
		subs = append(subs,
			route{r.topics.AllForecastPlans(), r.HandlePlan},
			route{r.topics.AllForecastSoC(), r.HandleSoC},
		)
	}

	for _, s := range subs {
		if err := sub.Subscribe(s.topic, qos, s.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topic, err)
		}
		r.logger.Info("subscribed", "topic", s.topic)
	}
	return nil
}

// HandleReading processes a message on fpf/{deployment}/sensor/{id}.
func (r *Router) HandleReading(topic string, payload []byte) error {
	sensorID, ok := r.topics.LastSegment(r.topics.AllSensorReadings(), topic)
	if !ok {
		r.logger.Warn("unexpected sensor topic", "topic", topic)
		return nil
	}

	value, at, err := parseReading(payload)
	if err != nil {
		r.logger.Warn("dropping sensor reading", "sensor_id", sensorID, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, handlerTimeout)
	defer cancel()

	fired, err := r.measurements.HandleMeasurement(ctx, sensorID, value, at)
	if err != nil {
		r.logger.Error("handling sensor reading", "sensor_id", sensorID, "error", err)
		return nil
	}
	r.logger.Debug("sensor reading", "sensor_id", sensorID, "value", value, "fired", fired)
	return nil
}

// HandlePlan processes an action plan on fpf/{deployment}/forecast/plan/{action_id}.
func (r *Router) HandlePlan(topic string, payload []byte) error {
	actionID, ok := r.topics.LastSegment(r.topics.AllForecastPlans(), topic)
	if !ok {
		r.logger.Warn("unexpected plan topic", "topic", topic)
		return nil
	}

	entries, err := parsePlan(payload)
	if err != nil {
		r.logger.Warn("dropping action plan", "action_id", actionID, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, handlerTimeout)
	defer cancel()

	res, err := r.forecasts.ScheduleActionPlan(ctx, actionID, entries)
	if err != nil {
		r.logger.Error("scheduling action plan", "action_id", actionID, "error", err)
		return nil
	}
	r.logger.Info("action plan scheduled",
		"action_id", actionID,
		"created", res.Created,
		"duplicates", res.Duplicates,
		"past", res.Past)
	return nil
}

// HandleSoC processes a state-of-charge curve on
// fpf/{deployment}/forecast/soc/{consumer_id}.
func (r *Router) HandleSoC(topic string, payload []byte) error {
	consumerID, ok := r.topics.LastSegment(r.topics.AllForecastSoC(), topic)
	if !ok {
		r.logger.Warn("unexpected soc topic", "topic", topic)
		return nil
	}

	curve, err := parseCurve(payload)
	if err != nil {
		r.logger.Warn("dropping soc curve", "consumer_id", consumerID, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, handlerTimeout)
	defer cancel()

	t, err := r.forecasts.ScheduleThresholdShutdown(ctx, consumerID, curve)
	switch {
	case errors.Is(err, forecast.ErrAlreadyScheduled):
		r.logger.Debug("threshold shutdown already scheduled", "consumer_id", consumerID)
	case err != nil:
		r.logger.Error("scheduling threshold shutdown", "consumer_id", consumerID, "error", err)
	case t == nil:
		r.logger.Debug("no threshold breach predicted", "consumer_id", consumerID)
	default:
		r.logger.Info("threshold shutdown scheduled", "consumer_id", consumerID, "trigger_id", t.ID)
	}
	return nil
}
