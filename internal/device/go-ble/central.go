// Package goble implements device.Central on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// Central drives the local HCI device. The underlying ble.Device is opened
// lazily on first use and reused for scanning and dialing.
type Central struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewCentral creates a go-ble backed central.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{logger: logger}
}

func (c *Central) device() (ble.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(fmt.Errorf("failed to create BLE device: %w", err))
	}
	c.dev = dev
	return dev, nil
}

// Ready opens the HCI device; failures are mapped to PermissionDenied or AdapterDisabled.
func (c *Central) Ready() error {
	_, err := c.device()
	return err
}

// Scan reports advertisements carrying serviceUUID until ctx is done.
// Duplicates are allowed so RSSI keeps updating during the scan window.
func (c *Central) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	dev, err := c.device()
	if err != nil {
		return err
	}
	want, err := ble.Parse(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	c.logger.WithField("service", serviceUUID).Debug("Starting go-ble scan")
	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		if !advertises(adv, want) {
			return
		}
		handler(toAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

// Connect dials address and returns the established link.
func (c *Central) Connect(ctx context.Context, address string) (device.Link, error) {
	if err := device.ValidateAddress(address); err != nil {
		return nil, err
	}
	dev, err := c.device()
	if err != nil {
		return nil, err
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, NormalizeError(fmt.Errorf("failed to connect to device with address %q: %w", address, err))
	}
	return newLink(address, client, c.logger), nil
}

// Compile-time check that Central implements device.Central.
var _ device.Central = (*Central)(nil)
