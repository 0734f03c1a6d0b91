package device

import (
	"fmt"

	"github.com/srg/heartflot/internal/bledb"
)

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to the internal format (lowercase, no dashes,
// SIG-base UUIDs reduced to their 16-bit form).
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// SameUUID reports whether a and b name the same attribute.
func SameUUID(a, b string) bool {
	return bledb.NormalizeUUID(a) == bledb.NormalizeUUID(b)
}

// ValidateAddress checks that a peripheral address is usable as a connect target.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("device address is empty")
	}
	for _, r := range address {
		if r == ' ' || r == '\t' || r == '\n' {
			return fmt.Errorf("invalid device address %q", address)
		}
	}
	return nil
}
