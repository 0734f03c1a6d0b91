package main

import (
	"errors"

	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/monitor"
	"github.com/srg/heartflot/internal/store"
)

// FormatUserError renders err with a hint for the failures a user can fix.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return msg + " (see 'heartflot sessions list')"
	case errors.Is(err, device.ErrPermissionDenied):
		return msg + " (grant Bluetooth access to this terminal, or run with CAP_NET_ADMIN on Linux)"
	case errors.Is(err, device.ErrAdapterDisabled):
		return msg + " (turn Bluetooth on and try again)"
	case errors.Is(err, device.ErrServiceNotSupported):
		return msg + " (the device does not expose the Heart Rate service)"
	case errors.Is(err, device.ErrCharacteristicNotSupported):
		return msg + " (the device has no Heart Rate Measurement characteristic)"
	case errors.Is(err, device.ErrUnsupportedPlatform):
		return msg + " (try --backend sim or --backend tinygo)"
	case errors.Is(err, device.ErrConnectionLost):
		return msg + " (move closer to the sensor and check its battery)"
	}
	return msg
}

// reportedError is a failure the monitor published in a snapshot rather
// than returned from a command.
type reportedError struct {
	*monitor.UserError
}

func reported(e *monitor.UserError) error {
	return reportedError{e}
}

func (e reportedError) Error() string {
	return e.Message
}

func (e reportedError) Unwrap() error {
	return &device.Error{Kind: e.Kind}
}
