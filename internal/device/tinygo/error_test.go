package tinygo

import (
	"errors"
	"testing"

	"github.com/srg/heartflot/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "bluez not ready", err: errors.New("org.bluez.Error.NotReady: Resource Not Ready"), want: device.ErrAdapterDisabled},
		{name: "powered off", err: errors.New("bluetooth: adapter powered off"), want: device.ErrAdapterDisabled},
		{name: "dbus access denied", err: errors.New("org.freedesktop.DBus.Error.AccessDenied: rejected"), want: device.ErrPermissionDenied},
		{name: "not connected", err: errors.New("device not connected"), want: device.ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error(), "original message MUST be preserved")
		})
	}

	assert.Nil(t, NormalizeError(nil))
	other := errors.New("something else")
	assert.Same(t, other, NormalizeError(other), "unknown errors MUST pass through")
}

func TestParseUUID(t *testing.T) {
	short, err := parseUUID("180d")
	assert.NoError(t, err)
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", short.String())

	full, err := parseUUID("0000180D-0000-1000-8000-00805F9B34FB")
	assert.NoError(t, err)
	assert.Equal(t, short, full)

	_, err = parseUUID("zz")
	assert.Error(t, err)
}
