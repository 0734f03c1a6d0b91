package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/bledb"
	"github.com/srg/heartflot/internal/device"
)

// Link is a live go-ble client connection.
type Link struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu         sync.Mutex
	profile    *ble.Profile
	subscribed []*ble.Characteristic
	closed     bool
	lost       <-chan struct{}
}

func newLink(address string, client ble.Client, logger *logrus.Logger) *Link {
	lost := client.Disconnected()
	if lost == nil {
		// Not every go-ble client reports disconnection; the staleness
		// watchdog is then the only loss detector.
		lost = make(chan struct{})
	}
	return &Link{
		address: address,
		client:  client,
		logger:  logger,
		lost:    lost,
	}
}

func (l *Link) Address() string { return l.address }

// Disconnected is closed when the peripheral drops the link.
func (l *Link) Disconnected() <-chan struct{} { return l.lost }

// Discover runs full GATT discovery and converts the result.
func (l *Link) Discover(ctx context.Context) (*device.Profile, error) {
	l.logger.WithField("address", l.address).Debug("Discovering services and characteristics...")
	p, err := l.client.DiscoverProfile(true)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   err,
		}).Error("Failed to discover profile")
		return nil, NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.profile = p
	l.mu.Unlock()

	profile := &device.Profile{Services: make([]device.ServiceInfo, 0, len(p.Services))}
	for _, svc := range p.Services {
		info := device.ServiceInfo{UUID: device.NormalizeUUID(svc.UUID.String())}
		for _, c := range svc.Characteristics {
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{
				UUID:     device.NormalizeUUID(c.UUID.String()),
				Notify:   c.Property&ble.CharNotify != 0,
				Indicate: c.Property&ble.CharIndicate != 0,
			})
		}
		l.logger.WithFields(logrus.Fields{
			"service_uuid":    info.UUID,
			"service_name":    bledb.LookupService(info.UUID),
			"characteristics": len(info.Characteristics),
		}).Debug("Found service")
		profile.Services = append(profile.Services, info)
	}
	return profile, nil
}

// findCharacteristic looks a characteristic up in the discovered profile.
func (l *Link) findCharacteristic(serviceUUID, charUUID string) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.profile == nil {
		return nil, fmt.Errorf("profile not discovered")
	}
	for _, svc := range l.profile.Services {
		if !device.SameUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charUUID) {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// Subscribe enables notifications (or indications when that is all the
// characteristic offers). go-ble writes the CCCD as part of Subscribe.
func (l *Link) Subscribe(ctx context.Context, serviceUUID, charUUID string, handler func(data []byte)) error {
	c, err := l.findCharacteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if c.CCCD == nil {
		return &device.Error{Kind: device.KindCharacteristicNotSupported, Msg: fmt.Sprintf("%s has no client characteristic configuration descriptor", bledb.LookupCharacteristic(charUUID))}
	}
	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := NormalizeError(l.client.Subscribe(c, indicate, ble.NotificationHandler(handler))); err != nil {
		l.logger.WithFields(logrus.Fields{
			"serviceUUID": serviceUUID,
			"charUUID":    charUUID,
			"error":       err,
		}).Error("Failed to subscribe to characteristic notifications")
		return err
	}

	l.mu.Lock()
	l.subscribed = append(l.subscribed, c)
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"serviceUUID": serviceUUID,
		"charUUID":    charUUID,
		"indicate":    indicate,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

// Close unsubscribes and cancels the connection. Calling it twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	l.closed = true
	subscribed := l.subscribed
	l.subscribed = nil
	l.mu.Unlock()

	var unsubscribeErrors []string
	for _, c := range subscribed {
		err1 := l.client.Unsubscribe(c, false)
		err2 := l.client.Unsubscribe(c, true)
		if err1 != nil && err2 != nil {
			unsubscribeErrors = append(unsubscribeErrors, fmt.Sprintf("%s: notify=%v, indicate=%v", c.UUID, err1, err2))
		}
	}
	if len(unsubscribeErrors) > 0 {
		l.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	err := l.client.CancelConnection()
	if err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
	}
	return err
}

// Compile-time check that Link implements device.Link.
var _ device.Link = (*Link)(nil)
