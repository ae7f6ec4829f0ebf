package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first level of every FPF topic.
const TopicRoot = "fpf"

// Topics builds the MQTT topics of one deployment. All topics live under
// fpf/{deployment}/...
//
//	topics := mqtt.Topics{Deployment: "fpf-001"}
//	topics.SensorReading("soil-moisture-3")
//	// Returns: "fpf/fpf-001/sensor/soil-moisture-3"
type Topics struct {
	Deployment string
}

func (t Topics) prefix() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.Deployment)
}

// ─── Inbound ────────────────────────────────────────────────────────────────

// SensorReading returns the topic on which a sensor publishes measurements.
//
// Example: fpf/fpf-001/sensor/soil-moisture-3
func (t Topics) SensorReading(sensorID string) string {
	return fmt.Sprintf("%s/sensor/%s", t.prefix(), sensorID)
}

// AllSensorReadings matches every sensor of the deployment.
//
// Pattern: fpf/fpf-001/sensor/+
func (t Topics) AllSensorReadings() string {
	return t.prefix() + "/sensor/+"
}

// ForecastPlan returns the topic carrying an action plan for one action.
//
// Example: fpf/fpf-001/forecast/plan/pump-1
func (t Topics) ForecastPlan(actionID string) string {
	return fmt.Sprintf("%s/forecast/plan/%s", t.prefix(), actionID)
}

// AllForecastPlans matches every action plan topic.
//
// Pattern: fpf/fpf-001/forecast/plan/+
func (t Topics) AllForecastPlans() string {
	return t.prefix() + "/forecast/plan/+"
}

// ForecastSoC returns the topic carrying a state-of-charge curve checked
// against one consumer.
//
// Example: fpf/fpf-001/forecast/soc/heater
func (t Topics) ForecastSoC(consumerID string) string {
	return fmt.Sprintf("%s/forecast/soc/%s", t.prefix(), consumerID)
}

// AllForecastSoC matches every state-of-charge curve topic.
//
// Pattern: fpf/fpf-001/forecast/soc/+
func (t Topics) AllForecastSoC() string {
	return t.prefix() + "/forecast/soc/+"
}

// ─── Outbound ───────────────────────────────────────────────────────────────

// Notifications returns the topic operator notifications are published on.
//
// Example: fpf/fpf-001/notifications
func (t Topics) Notifications() string {
	return t.prefix() + "/notifications"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: fpf/fpf-001/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// ─── Parsing ────────────────────────────────────────────────────────────────

// LastSegment returns the final level of a topic that matched pattern,
// where pattern ends in a single-level wildcard. ok is false when topic does
// not match.
//
//	Topics{Deployment: "fpf-001"}.LastSegment("fpf/fpf-001/sensor/+", "fpf/fpf-001/sensor/t1")
//	// Returns: "t1", true
func (Topics) LastSegment(pattern, topic string) (string, bool) {
	base, found := strings.CutSuffix(pattern, "+")
	if !found {
		return "", false
	}
	rest, found := strings.CutPrefix(topic, base)
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
