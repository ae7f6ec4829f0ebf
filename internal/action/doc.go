// Package action holds the controllable actuator model for FPF Core:
// hardware units, controllable actions and the triggers that request them.
//
// A Hardware unit groups actions that must never run at the same time.
// A ControllableAction names the script class that performs its side effect
// and carries the script configuration. A Trigger is an intent to run an
// action with a value; its Type picks the handler in the trigger package.
//
// Persistence is SQLite (SQLiteRepository). Registry adds an in-memory cache
// for hardware and actions, validates input, and lets the scheduler listen
// for trigger changes.
package action
