// Package scheduler is the trigger scheduling layer.
//
// It owns one robfig/cron runner for recurring work (interval triggers,
// the minutely time-of-day evaluation, queue sweeps, energy checks and
// retention cleanup) and a keyed set of one-shot timers used by forecast
// triggers and smart-plug auto-off.
package scheduler
