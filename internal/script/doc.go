// Package script maps action class ids to the code that performs an action's
// external side effect.
//
// A Registry is filled at startup (RegisterBuiltins plus any extra classes)
// and resolves a Script for an action from its class id and JSON
// configuration. Built-in classes:
//
//	smart-plug    HTTP GET /relay/N?turn=on|off, optional auto-off
//	grid-relay    HTTP POST {"state":"connect"|"disconnect"}
//	http-post     HTTP POST {"value": ..., "action": ...}
//	mqtt-publish  publishes the value on a topic
package script
