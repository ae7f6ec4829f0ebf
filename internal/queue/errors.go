package queue

import "errors"

// Domain errors for the queue package.
var (
	// ErrEntryNotFound is returned when a queue entry ID does not exist.
	ErrEntryNotFound = errors.New("queue: entry not found")

	// ErrAlreadyQueued is returned by the repository when the trigger
	// already has an unfinished entry. Enqueue absorbs it.
	ErrAlreadyQueued = errors.New("queue: trigger already queued")

	// ErrInvalidTransition is returned for a lifecycle move the entry state
	// does not permit, such as finishing an ended entry.
	ErrInvalidTransition = errors.New("queue: invalid transition")

	// ErrTriggerMismatch is returned when a trigger does not belong to the
	// requested action.
	ErrTriggerMismatch = errors.New("queue: trigger does not belong to action")
)
