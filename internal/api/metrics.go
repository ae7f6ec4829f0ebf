package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/nerrad567/fpf-core/internal/queue"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the GET /system/metrics body: a snapshot for operators,
// separate from the Prometheus endpoint.
type SystemMetrics struct {
	Timestamp     string `json:"timestamp"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Runtime struct {
		Goroutines int     `json:"goroutines"`
		HeapMB     float64 `json:"heap_mb"`
		NumGC      uint32  `json:"num_gc"`
	} `json:"runtime"`

	Actions struct {
		Total   int `json:"total"`
		Scripts int `json:"scripts"`
	} `json:"actions"`

	Queue struct {
		Pending int `json:"pending"`
		Running int `json:"running"`
	} `json:"queue"`

	MQTT struct {
		Enabled   bool `json:"enabled"`
		Connected bool `json:"connected"`
	} `json:"mqtt"`

	WebSocketClients int `json:"websocket_clients"`

	Database struct {
		OpenConnections int   `json:"open_connections"`
		InUse           int   `json:"in_use"`
		WaitCount       int64 `json:"wait_count"`
	} `json:"database"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var m SystemMetrics
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	m.Version = s.version
	m.UptimeSeconds = int64(time.Since(s.startTime) / time.Second)
	m.Runtime.Goroutines = runtime.NumGoroutine()
	m.Runtime.HeapMB = float64(mem.HeapAlloc) / bytesPerMB
	m.Runtime.NumGC = mem.NumGC

	m.Actions.Total = s.actions.ActionCount()
	if s.scripts != nil {
		m.Actions.Scripts = len(s.scripts.Descriptors())
	}

	entries, err := s.queue.List(r.Context(), queue.ListFilter{UnfinishedOnly: true})
	if err != nil {
		s.logger.Warn("listing unfinished queue entries", "error", err)
	}
	for i := range entries {
		switch entries[i].Status() {
		case queue.StatusPending:
			m.Queue.Pending++
		case queue.StatusRunning:
			m.Queue.Running++
		}
	}

	if s.mqtt != nil {
		m.MQTT.Enabled = true
		m.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.hub != nil {
		m.WebSocketClients = s.hub.ClientCount()
	}
	if s.db != nil {
		st := s.db.Stats()
		m.Database.OpenConnections = st.OpenConnections
		m.Database.InUse = st.InUse
		m.Database.WaitCount = st.WaitCount
	}

	writeJSON(w, http.StatusOK, m)
}

// handlePrometheus serves every registered counter, gauge and histogram
// plus the Go process metrics.
func (s *Server) handlePrometheus(w http.ResponseWriter, _ *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	metrics.GetOrCreateGauge("fpf_websocket_clients", nil).Set(float64(clients))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}
