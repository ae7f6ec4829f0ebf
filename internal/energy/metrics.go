package energy

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

func setBatteryPercent(deploymentID string, pct float64) {
	metrics.GetOrCreateGauge(fmt.Sprintf(`fpf_energy_battery_percent{deployment=%q}`, deploymentID), nil).Set(pct)
}

func countDecision(d Decision) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_energy_decisions_total{decision=%q}`, string(d))).Inc()
}

func countDispatch(kind string, admitted bool) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_energy_dispatches_total{kind=%q,admitted="%t"}`, kind, admitted)).Inc()
}
