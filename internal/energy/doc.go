// Package energy is the battery-driven energy decision engine.
//
// Evaluate is a pure function from a snapshot of a deployment (settings,
// consumers, sources) and a battery level to a State: a status, a decision
// and the consumers to power off. The Driver wraps it for the periodic
// check: it resolves live readings and weather estimates, records samples,
// and turns the decision into synthetic manual triggers (origin energy)
// admitted through the action queue. The engine never calls hardware.
package energy
