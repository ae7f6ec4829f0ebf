// Package forecast turns model predictions into future queue entries.
//
// Two inputs are supported. An action plan is an ordered list of
// (timestamp, value) pairs for one action; it is stored as forecast
// triggers and driven by a single self-relinking timer per action, so at
// most one timer per action is live at any time. A state-of-charge curve is
// checked against a consumer's forecast shutdown threshold and becomes one
// shutdown trigger, brought forward by the consumer's buffer days.
//
// Every timer callback claims its trigger with an atomic deactivate before
// acting. Cancelling a trigger both deactivates it and removes its timer.
package forecast
