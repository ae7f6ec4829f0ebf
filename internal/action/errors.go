package action

import "errors"

// Domain errors for the action package.
//
//	if errors.Is(err, action.ErrActionNotFound) {
//	    // handle not found case
//	}
var (
	// ErrHardwareNotFound is returned when a hardware ID does not exist.
	ErrHardwareNotFound = errors.New("action: hardware not found")

	// ErrHardwareExists is returned when creating hardware with an ID that already exists.
	ErrHardwareExists = errors.New("action: hardware already exists")

	// ErrHardwareInUse is returned when deleting hardware that still owns actions.
	ErrHardwareInUse = errors.New("action: hardware in use")

	// ErrActionNotFound is returned when an action ID does not exist.
	ErrActionNotFound = errors.New("action: not found")

	// ErrActionExists is returned when creating an action with an ID that already exists.
	ErrActionExists = errors.New("action: already exists")

	// ErrInvalidAction is returned when action validation fails.
	ErrInvalidAction = errors.New("action: invalid")

	// ErrTriggerNotFound is returned when a trigger ID does not exist.
	ErrTriggerNotFound = errors.New("action: trigger not found")

	// ErrInvalidTrigger is returned when trigger validation fails.
	ErrInvalidTrigger = errors.New("action: invalid trigger")
)
