package soundloop

import "errors"

var (
	// ErrInvalidConfig is returned by setters refusing a value, e.g. a zero
	// buffer size or a non-positive delay factor.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDeviceUnavailable means the device id does not (or no longer) exist.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrPresetUnsupported means the backend cannot run with the presets.
	ErrPresetUnsupported = errors.New("preset unsupported")
	// ErrProbeFailed means the backend could not be queried.
	ErrProbeFailed = errors.New("probe failed")
	// ErrTransportStopped is returned when a period is processed on a device
	// whose transport is not initialized.
	ErrTransportStopped = errors.New("transport stopped")
)
