package goble

import (
	"fmt"
	"strings"

	"github.com/srg/heartflot/internal/device"
)

// NormalizeError maps known go-ble error strings to the device error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrAdapterDisabled, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", device.ErrAdapterDisabled, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "have=3"): // CBManagerStateUnauthorized
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrConnectionLost, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
