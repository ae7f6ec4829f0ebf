// Package api implements the HTTP REST API and WebSocket server for FPF Core.
//
// This package provides:
//   - REST endpoints for hardware, actions, triggers and the action queue
//   - Energy settings, consumers, sources and on-demand evaluation
//   - Forecast plan and state-of-charge ingestion
//   - Sensor measurement ingestion (the HTTP twin of the MQTT path)
//   - WebSocket hub broadcasting queue and energy events
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server is the operator-facing surface of the orchestration core.
// Requests mutate the registries and hand work to the queue; the queue and
// the energy driver report back through the hub.
//
// # Graceful Degradation
//
// The energy driver, forecast injector and sensor handler are optional.
// Their routes answer 503 when the component is not wired.
package api
