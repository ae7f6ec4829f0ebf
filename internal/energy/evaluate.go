package energy

import (
	"fmt"
	"sort"
)

// Ladder constants.
const (
	// emergencyPercent is the fixed floor below which everything
	// non-critical is shed.
	emergencyPercent = 5.0

	// nonCriticalPriority is the priority above which consumers are shed at
	// the shutdown threshold.
	nonCriticalPriority = 5
)

// Evaluate decides what to do at the given battery level. It is pure: the
// same snapshot and level always give the same state (EvaluatedAt aside,
// which is left zero).
//
// The ladder, first match wins, on battery percent p:
//
//	p <= 5                 EMERGENCY_SHUTDOWN     priority > critical threshold
//	p <= shutdown          SHUTDOWN_NON_CRITICAL  priority > 5
//	p <  grid connect      CONNECT_GRID
//	p <  warning           CONNECT_GRID if net < 0 and grid disconnected
//	otherwise              DISCONNECT_GRID if grid connected, net > 0, p > disconnect
//
// Consumers whose own threshold is at or above p are shed too. When the
// ladder chose NONE or DISCONNECT_GRID, such overrides escalate the decision
// to SHUTDOWN_NON_CRITICAL.
func Evaluate(snap Snapshot, batteryLevelWh float64) (State, error) {
	s := snap.Settings
	if s.BatteryMaxWh <= 0 {
		return State{}, fmt.Errorf("%w: battery_max_wh must be positive", ErrInvalidSettings)
	}

	level := max(batteryLevelWh, 0)
	pct := level / s.BatteryMaxWh * 100

	st := State{
		DeploymentID:   s.DeploymentID,
		BatteryLevelWh: level,
		BatteryPercent: pct,
	}

	for _, c := range snap.Consumers {
		if c.IsActive {
			st.ConsumptionW += c.ConsumptionW
		}
	}
	for _, src := range snap.Sources {
		switch src.Type {
		case SourceGrid:
			if src.IsConnected {
				st.GridConnected = true
			}
		case SourceBattery:
		default:
			st.ProductionW += src.ProductionW
		}
	}
	st.NetPowerW = st.ProductionW - st.ConsumptionW

	listed := make(map[string]bool)
	shed := func(reason string, keep func(c *Consumer) bool) {
		for i := range snap.Consumers {
			c := &snap.Consumers[i]
			if !c.IsActive || listed[c.ID] || !keep(c) {
				continue
			}
			listed[c.ID] = true
			st.Shutdown = append(st.Shutdown, ShutdownTarget{
				ConsumerID: c.ID, Name: c.Name, Priority: c.Priority, Reason: reason,
			})
		}
	}

	switch {
	case pct <= emergencyPercent:
		st.Status, st.Decision = StatusEmergency, DecisionEmergencyShutdown
		shed(ReasonEmergency, func(c *Consumer) bool { return c.Priority > s.CriticalPriorityThreshold })
	case pct <= s.ShutdownThreshold:
		st.Status, st.Decision = StatusCritical, DecisionShutdownNonCritical
		shed(ReasonNonCritical, func(c *Consumer) bool { return c.Priority > nonCriticalPriority })
	case pct < s.GridConnectThreshold:
		st.Status, st.Decision = StatusLow, DecisionConnectGrid
	case pct < s.WarningThreshold:
		st.Status, st.Decision = StatusWarning, DecisionNone
		if st.NetPowerW < 0 && !st.GridConnected {
			st.Decision = DecisionConnectGrid
		}
	default:
		st.Status, st.Decision = StatusNormal, DecisionNone
		if st.GridConnected && st.NetPowerW > 0 && pct > s.GridDisconnectThreshold {
			st.Decision = DecisionDisconnectGrid
		}
	}

	before := len(st.Shutdown)
	shed(ReasonThreshold, func(c *Consumer) bool {
		thr, ok := c.OverrideThreshold()
		return ok && thr >= pct
	})
	if len(st.Shutdown) > before && (st.Decision == DecisionNone || st.Decision == DecisionDisconnectGrid) {
		st.Decision = DecisionShutdownNonCritical
	}

	// Least critical first.
	sort.SliceStable(st.Shutdown, func(i, j int) bool {
		if st.Shutdown[i].Priority != st.Shutdown[j].Priority {
			return st.Shutdown[i].Priority > st.Shutdown[j].Priority
		}
		return st.Shutdown[i].Name < st.Shutdown[j].Name
	})
	return st, nil
}
