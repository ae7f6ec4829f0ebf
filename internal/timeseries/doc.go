// Package timeseries defines the store FPF Core reads live readings from
// and writes energy samples to, with adapters for InfluxDB and
// VictoriaMetrics and an in-memory fallback.
package timeseries
