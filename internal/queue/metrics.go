package queue

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

func countEnqueued(created bool) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_queue_enqueued_total{created="%t"}`, created)).Inc()
}

func countOutcome(o Outcome) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_queue_entries_total{outcome="%s"}`, o)).Inc()
}

func countPass(coalesced bool) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_queue_passes_total{coalesced="%t"}`, coalesced)).Inc()
}

func countBlocked(n int) {
	if n > 0 {
		metrics.GetOrCreateCounter(`fpf_queue_blocked_total`).Add(n)
	}
}

func observeRun(classID string, start time.Time) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`fpf_queue_run_duration_seconds{class="%s"}`, classID)).UpdateDuration(start)
}
