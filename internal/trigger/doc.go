// Package trigger evaluates action triggers.
//
// Each trigger type has a Handler answering "should this fire now":
//
//	manual       always
//	timeOfDay    while the clock is inside the from/to window (wraps at midnight)
//	interval     on every tick of the recurring job the scheduler installs
//	sensorValue  when the measurement satisfies >, < or between
//	forecast     never by evaluation; the forecast injector fires it
//
// Malformed logic fails closed: the handler evaluates to false. Validate
// performs the strict check used on input.
package trigger
