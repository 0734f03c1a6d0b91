package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"tinygo.org/x/bluetooth"
)

// Link is a connected tinygo peripheral.
type Link struct {
	address string
	dev     bluetooth.Device
	logger  *logrus.Logger
	forget  func()

	mu       sync.Mutex
	services []bluetooth.DeviceService
	closed   bool

	lost     chan struct{}
	lostOnce sync.Once
}

func newLink(address string, dev bluetooth.Device, logger *logrus.Logger, forget func()) *Link {
	return &Link{
		address: address,
		dev:     dev,
		logger:  logger,
		forget:  forget,
		lost:    make(chan struct{}),
	}
}

func (l *Link) Address() string { return l.address }

func (l *Link) Disconnected() <-chan struct{} { return l.lost }

func (l *Link) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Discover lists every service and characteristic. tinygo does not report
// characteristic properties on every platform, so Notify/Indicate stay unset.
func (l *Link) Discover(ctx context.Context) (*device.Profile, error) {
	services, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("discover services: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile := &device.Profile{}
	for _, svc := range services {
		info := device.ServiceInfo{UUID: device.NormalizeUUID(svc.UUID().String())}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, NormalizeError(fmt.Errorf("discover characteristics of %s: %w", info.UUID, err))
		}
		for _, c := range chars {
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{
				UUID: device.NormalizeUUID(c.UUID().String()),
			})
		}
		profile.Services = append(profile.Services, info)
	}

	l.mu.Lock()
	l.services = services
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"address":  l.address,
		"services": len(profile.Services),
	}).Debug("Discovered GATT profile")
	return profile, nil
}

// Subscribe enables notifications; tinygo writes the CCCD itself.
func (l *Link) Subscribe(ctx context.Context, serviceUUID, charUUID string, handler func([]byte)) error {
	l.mu.Lock()
	services := l.services
	l.mu.Unlock()

	for _, svc := range services {
		if !device.SameUUID(svc.UUID().String(), serviceUUID) {
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return NormalizeError(err)
		}
		for _, c := range chars {
			if !device.SameUUID(c.UUID().String(), charUUID) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.EnableNotifications(handler); err != nil {
				return NormalizeError(fmt.Errorf("enable notifications: %w", err))
			}
			l.logger.WithFields(logrus.Fields{
				"serviceUUID": serviceUUID,
				"charUUID":    charUUID,
			}).Info("Successfully subscribed to characteristic notifications")
			return nil
		}
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// Close disconnects. Calling it twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.forget()
	err := l.dev.Disconnect()
	l.markLost()
	return err
}

var _ device.Link = (*Link)(nil)
