package tinygo

import (
	"fmt"
	"strings"

	"github.com/srg/heartflot/internal/device"
)

// NormalizeError maps tinygo/BlueZ/CoreBluetooth error text to the device
// error taxonomy.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not powered"),
		strings.Contains(msg, "powered off"),
		strings.Contains(msg, "org.bluez.error.notready"),
		strings.Contains(msg, "no bluetooth adapter"),
		strings.Contains(msg, "adapter not found"):
		return fmt.Errorf("%w: %v", device.ErrAdapterDisabled, err)
	case strings.Contains(msg, "not permitted"),
		strings.Contains(msg, "permission"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "org.freedesktop.dbus.error.accessdenied"):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case strings.Contains(msg, "not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrConnectionLost, err)
	default:
		return err
	}
}
