package energy

import "errors"

// Domain errors for the energy package.
var (
	// ErrSettingsNotFound is returned when a deployment has no energy settings.
	ErrSettingsNotFound = errors.New("energy: settings not found")

	// ErrConsumerNotFound is returned when a consumer ID does not exist.
	ErrConsumerNotFound = errors.New("energy: consumer not found")

	// ErrSourceNotFound is returned when a source ID does not exist.
	ErrSourceNotFound = errors.New("energy: source not found")

	// ErrInvalidSettings is returned when settings validation fails.
	ErrInvalidSettings = errors.New("energy: invalid settings")

	// ErrInvalidConsumer is returned when consumer validation fails.
	ErrInvalidConsumer = errors.New("energy: invalid consumer")

	// ErrInvalidSource is returned when source validation fails.
	ErrInvalidSource = errors.New("energy: invalid source")

	// ErrNoBatteryReading is returned by Check when the battery level is
	// unknown.
	ErrNoBatteryReading = errors.New("energy: no battery reading")
)
