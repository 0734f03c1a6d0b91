//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/heartflot/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, device.NewError(device.KindUnsupportedPlatform, "go-ble has no HCI backend for %s", runtime.GOOS)
}
