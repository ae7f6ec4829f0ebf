package forecast

import "errors"

var (
	// ErrAlreadyScheduled is returned when a live forecast trigger already
	// references the consumer.
	ErrAlreadyScheduled = errors.New("forecast: shutdown already scheduled for consumer")

	// ErrNoThreshold is returned for a consumer without a forecast
	// shutdown threshold.
	ErrNoThreshold = errors.New("forecast: consumer has no forecast shutdown threshold")

	// ErrNoConsumerAction is returned when no action can power off the
	// consumer.
	ErrNoConsumerAction = errors.New("forecast: no action for consumer")
)
