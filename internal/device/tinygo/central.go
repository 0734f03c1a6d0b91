// Package tinygo implements device.Central on top of tinygo.org/x/bluetooth
// (BlueZ over D-Bus on linux, CoreBluetooth on darwin, WinRT on windows).
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"tinygo.org/x/bluetooth"
)

// Central wraps the default adapter. On darwin addresses are CoreBluetooth
// peripheral UUIDs rather than MAC addresses.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	// mu protects links
	mu    sync.Mutex
	links map[string]*Link
}

// NewCentral creates a central over bluetooth.DefaultAdapter.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		links:   make(map[string]*Link),
	}
}

// Ready enables the adapter once and installs the disconnect handler.
func (c *Central) Ready() error {
	c.enableOnce.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = NormalizeError(fmt.Errorf("enable adapter: %w", err))
			return
		}
		c.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			if connected {
				return
			}
			address := dev.Address.String()
			c.mu.Lock()
			link, ok := c.links[address]
			delete(c.links, address)
			c.mu.Unlock()
			if ok {
				c.logger.WithField("address", address).Info("Peripheral disconnected")
				link.markLost()
			}
		})
	})
	return c.enableErr
}

// Scan reports advertisements carrying serviceUUID until ctx is done.
func (c *Central) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	if err := c.Ready(); err != nil {
		return err
	}
	want, err := parseUUID(serviceUUID)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.adapter.StopScan(); err != nil {
				c.logger.WithField("error", err).Debug("StopScan failed")
			}
		case <-done:
		}
	}()

	c.logger.WithField("service", serviceUUID).Debug("Starting tinygo scan")
	err = c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(want) {
			return
		}
		handler(device.Advertisement{
			Address:  result.Address.String(),
			Name:     result.LocalName(),
			RSSI:     int(result.RSSI),
			Services: []string{device.NormalizeUUID(serviceUUID)},
		})
	})
	if err != nil && ctx.Err() == nil {
		return NormalizeError(fmt.Errorf("scan: %w", err))
	}
	return nil
}

// Connect dials address. tinygo's Connect cannot be canceled; when ctx ends
// first the late connection is dropped as soon as it completes.
func (c *Central) Connect(ctx context.Context, address string) (device.Link, error) {
	if err := device.ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := c.Ready(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{dev, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to %s: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   r.err,
			}).Error("Failed to connect")
			return nil, NormalizeError(fmt.Errorf("connect to %s: %w", address, r.err))
		}
		link := newLink(address, r.dev, c.logger, func() { c.forget(address) })
		c.mu.Lock()
		c.links[address] = link
		c.mu.Unlock()
		return link, nil
	}
}

func (c *Central) forget(address string) {
	c.mu.Lock()
	delete(c.links, address)
	c.mu.Unlock()
}

func parseUUID(s string) (bluetooth.UUID, error) {
	norm := device.NormalizeUUID(s)
	if len(norm) == 4 {
		var v uint16
		if _, err := fmt.Sscanf(norm, "%04x", &v); err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(v), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

var _ device.Central = (*Central)(nil)
