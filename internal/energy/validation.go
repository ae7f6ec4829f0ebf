package energy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 100

// ValidateSettings checks deployment settings before persistence.
func ValidateSettings(s *Settings) error {
	if s == nil || s.DeploymentID == "" {
		return fmt.Errorf("%w: deployment_id is required", ErrInvalidSettings)
	}
	if s.BatteryMaxWh <= 0 {
		return fmt.Errorf("%w: battery_max_wh must be positive", ErrInvalidSettings)
	}
	thresholds := []struct {
		name  string
		value float64
	}{
		{"grid_connect_threshold", s.GridConnectThreshold},
		{"shutdown_threshold", s.ShutdownThreshold},
		{"warning_threshold", s.WarningThreshold},
		{"grid_disconnect_threshold", s.GridDisconnectThreshold},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > 100 {
			return fmt.Errorf("%w: %s must be 0-100", ErrInvalidSettings, th.name)
		}
	}
	if s.CriticalPriorityThreshold < 1 {
		return fmt.Errorf("%w: critical_priority_threshold must be at least 1", ErrInvalidSettings)
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidSettings)
	}
	return nil
}

// ValidateConsumer checks a consumer before persistence.
func ValidateConsumer(c *Consumer) error {
	if c == nil {
		return ErrInvalidConsumer
	}
	if err := validateName(c.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConsumer, err)
	}
	if c.DeploymentID == "" {
		return fmt.Errorf("%w: deployment_id is required", ErrInvalidConsumer)
	}
	if c.Priority < 1 {
		return fmt.Errorf("%w: priority must be at least 1", ErrInvalidConsumer)
	}
	if c.ConsumptionW < 0 {
		return fmt.Errorf("%w: consumption_w must not be negative", ErrInvalidConsumer)
	}
	for _, th := range []*float64{c.ShutdownThreshold, c.ForecastShutdownThreshold} {
		if th != nil && (*th < 0 || *th > 100) {
			return fmt.Errorf("%w: thresholds must be 0-100", ErrInvalidConsumer)
		}
	}
	if c.ForecastBufferDays < 0 {
		return fmt.Errorf("%w: forecast_buffer_days must not be negative", ErrInvalidConsumer)
	}
	return nil
}

// ValidateSource checks a source before persistence.
func ValidateSource(s *Source) error {
	if s == nil {
		return ErrInvalidSource
	}
	if err := validateName(s.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if s.DeploymentID == "" {
		return fmt.Errorf("%w: deployment_id is required", ErrInvalidSource)
	}
	switch s.Type {
	case SourceSolar, SourceWind, SourceGrid, SourceGenerator, SourceBattery:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, s.Type)
	}
	if s.ProductionW < 0 || s.CapacityW < 0 {
		return fmt.Errorf("%w: production and capacity must not be negative", ErrInvalidSource)
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

// GenerateID returns a new random identifier.
func GenerateID() string {
	return uuid.New().String()
}
