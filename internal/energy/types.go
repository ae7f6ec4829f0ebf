package energy

import "time"

// Settings holds the per-deployment battery thresholds. Thresholds are
// percentages of BatteryMaxWh.
type Settings struct {
	DeploymentID              string    `json:"deployment_id"`
	BatteryMaxWh              float64   `json:"battery_max_wh"`
	GridConnectThreshold      float64   `json:"grid_connect_threshold"`
	ShutdownThreshold         float64   `json:"shutdown_threshold"`
	WarningThreshold          float64   `json:"warning_threshold"`
	GridDisconnectThreshold   float64   `json:"grid_disconnect_threshold"`
	CriticalPriorityThreshold int       `json:"critical_priority_threshold"`
	BatteryEntityID           *string   `json:"battery_entity_id,omitempty"`
	Latitude                  float64   `json:"latitude"`
	Longitude                 float64   `json:"longitude"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// Consumer is a powered load. Priority 1 is the most critical.
type Consumer struct {
	ID           string  `json:"id"`
	DeploymentID string  `json:"deployment_id"`
	Name         string  `json:"name"`
	ConsumptionW float64 `json:"consumption_w"`
	Priority     int     `json:"priority"`

	// ShutdownThreshold and ForecastShutdownThreshold are battery
	// percentages at or below which this consumer is shed, whatever the
	// deployment-wide ladder decides.
	ShutdownThreshold         *float64 `json:"shutdown_threshold,omitempty"`
	ForecastShutdownThreshold *float64 `json:"forecast_shutdown_threshold,omitempty"`
	ForecastBufferDays        int      `json:"forecast_buffer_days"`

	ActionID     *string   `json:"action_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	LiveEntityID *string   `json:"live_entity_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OverrideThreshold returns the larger of the consumer's own thresholds.
func (c *Consumer) OverrideThreshold() (float64, bool) {
	switch {
	case c.ShutdownThreshold != nil && c.ForecastShutdownThreshold != nil:
		return max(*c.ShutdownThreshold, *c.ForecastShutdownThreshold), true
	case c.ShutdownThreshold != nil:
		return *c.ShutdownThreshold, true
	case c.ForecastShutdownThreshold != nil:
		return *c.ForecastShutdownThreshold, true
	default:
		return 0, false
	}
}

// SourceType classifies an energy source.
type SourceType string

// Source types.
const (
	SourceSolar     SourceType = "solar"
	SourceWind      SourceType = "wind"
	SourceGrid      SourceType = "grid"
	SourceGenerator SourceType = "generator"
	SourceBattery   SourceType = "battery"
)

// Source is a producer of energy.
type Source struct {
	ID           string     `json:"id"`
	DeploymentID string     `json:"deployment_id"`
	Name         string     `json:"name"`
	Type         SourceType `json:"type"`
	ProductionW  float64    `json:"production_w"`
	CapacityW    float64    `json:"capacity_w"`
	ActionID     *string    `json:"action_id,omitempty"`
	// IsConnected is the grid connection state for grid sources.
	IsConnected  bool      `json:"is_connected"`
	LiveEntityID *string   `json:"live_entity_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status is the battery condition reported to operators.
type Status string

// Battery statuses, most severe first.
const (
	StatusEmergency Status = "EMERGENCY"
	StatusCritical  Status = "CRITICAL"
	StatusLow       Status = "LOW"
	StatusWarning   Status = "WARNING"
	StatusNormal    Status = "NORMAL"
)

// Decision is what the engine asks the queue to do.
type Decision string

// Decisions.
const (
	DecisionNone                Decision = "NONE"
	DecisionEmergencyShutdown   Decision = "EMERGENCY_SHUTDOWN"
	DecisionShutdownNonCritical Decision = "SHUTDOWN_NON_CRITICAL"
	DecisionConnectGrid         Decision = "CONNECT_GRID"
	DecisionDisconnectGrid      Decision = "DISCONNECT_GRID"
)

// Shutdown reasons.
const (
	ReasonEmergency   = "emergency"
	ReasonNonCritical = "non-critical"
	ReasonThreshold   = "consumer-threshold"
)

// Snapshot is the input of Evaluate. Consumption and production figures
// are already resolved to live or weather-adjusted values.
type Snapshot struct {
	Settings  Settings   `json:"settings"`
	Consumers []Consumer `json:"consumers"`
	Sources   []Source   `json:"sources"`
}

// ShutdownTarget is a consumer the engine wants powered off.
type ShutdownTarget struct {
	ConsumerID string `json:"consumer_id"`
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	Reason     string `json:"reason"`
}

// State is the result of one evaluation.
type State struct {
	DeploymentID   string           `json:"deployment_id"`
	BatteryLevelWh float64          `json:"battery_level_wh"`
	BatteryPercent float64          `json:"battery_percent"`
	Status         Status           `json:"status"`
	Decision       Decision         `json:"decision"`
	ConsumptionW   float64          `json:"consumption_w"`
	ProductionW    float64          `json:"production_w"`
	NetPowerW      float64          `json:"net_power_w"`
	GridConnected  bool             `json:"grid_connected"`
	Shutdown       []ShutdownTarget `json:"shutdown"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
}
