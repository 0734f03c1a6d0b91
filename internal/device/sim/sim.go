// Package sim provides a simulated heart-rate strap. It implements
// device.Central so the monitor, CLI and server run without a radio.
package sim

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/groutine"
	"github.com/srg/heartflot/internal/heartrate"
)

// Config describes the simulated sensor.
type Config struct {
	Name     string        `yaml:"name" default:"HeartFlot Sim"`
	Address  string        `yaml:"address" default:"5E:1A:00:00:0D:01"`
	RSSI     int           `yaml:"rssi" default:"-55"`
	BPM      int           `yaml:"bpm" default:"72"`
	Interval time.Duration `yaml:"interval" default:"1s"`
	// Seed makes the random walk reproducible; zero uses the clock.
	Seed int64 `yaml:"seed"`
}

// Central advertises one simulated sensor and streams a bounded random
// walk of heart-rate values while connected.
type Central struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	bpm      int
	paused   bool
	readyErr error
	profile  *device.Profile
	link     *Link
}

// New creates a simulator. cfg fields should already carry defaults.
func New(cfg Config, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Central{
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // simulated readings
		bpm:     cfg.BPM,
		profile: Profile(),
	}
}

// Profile is the GATT layout the simulator exposes.
func Profile() *device.Profile {
	return &device.Profile{Services: []device.ServiceInfo{
		{UUID: "180a", Characteristics: []device.CharacteristicInfo{{UUID: "2a29"}}},
		{UUID: heartrate.ServiceUUID, Characteristics: []device.CharacteristicInfo{
			{UUID: heartrate.MeasurementUUID, Notify: true},
			{UUID: "2a38"},
		}},
	}}
}

// SetReadyError makes Ready fail, e.g. with device.ErrAdapterDisabled.
func (c *Central) SetReadyError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyErr = err
}

// SetProfile replaces the advertised GATT layout for the next connection.
func (c *Central) SetProfile(p *device.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
}

// Pause stops notifications without dropping the link.
func (c *Central) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume restarts notifications.
func (c *Central) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Drop simulates the sensor going out of range.
func (c *Central) Drop() {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()
	if link != nil {
		link.markLost()
	}
}

func (c *Central) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyErr
}

// Scan advertises the simulated sensor once per interval until ctx ends.
func (c *Central) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	if err := c.Ready(); err != nil {
		return err
	}
	if !device.SameUUID(serviceUUID, heartrate.ServiceUUID) {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		handler(c.advertisement())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Central) advertisement() device.Advertisement {
	c.mu.Lock()
	jitter := c.rng.Intn(7) - 3
	c.mu.Unlock()
	return device.Advertisement{
		Address:  c.cfg.Address,
		Name:     c.cfg.Name,
		RSSI:     c.cfg.RSSI + jitter,
		Services: []string{heartrate.ServiceUUID},
	}
}

// Connect succeeds for the simulated address only.
func (c *Central) Connect(ctx context.Context, address string) (device.Link, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	if !strings.EqualFold(address, c.cfg.Address) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.Interval):
			return nil, device.NewError(device.KindConnectionLost, "no simulated device at %s", address)
		}
	}

	c.mu.Lock()
	link := &Link{central: c, address: address, profile: c.profile, lost: make(chan struct{}), stop: make(chan struct{})}
	c.link = link
	c.mu.Unlock()

	c.logger.WithField("address", address).Info("Simulated sensor connected")
	return link, nil
}

// next advances the random walk and reports whether a reading is due.
func (c *Central) next() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return 0, false
	}
	c.bpm += c.rng.Intn(5) - 2
	c.bpm = max(40, min(c.bpm, 200))
	return c.bpm, true
}

// Link is a simulated connection.
type Link struct {
	central *Central
	address string
	profile *device.Profile

	mu         sync.Mutex
	subscribed bool
	closed     bool
	lost       chan struct{}
	lostOnce   sync.Once
	stop       chan struct{}
}

func (l *Link) Address() string { return l.address }

func (l *Link) Disconnected() <-chan struct{} { return l.lost }

func (l *Link) Discover(ctx context.Context) (*device.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.profile, nil
}

// Subscribe starts streaming encoded measurements to handler.
func (l *Link) Subscribe(ctx context.Context, serviceUUID, charUUID string, handler func([]byte)) error {
	if _, err := l.profile.Find(serviceUUID, charUUID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return device.ErrNotConnected
	}
	if l.subscribed {
		return nil
	}
	l.subscribed = true

	groutine.Go(context.Background(), "sim-notify", func(context.Context) {
		ticker := time.NewTicker(l.central.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-l.lost:
				return
			case <-ticker.C:
				if bpm, ok := l.central.next(); ok {
					handler(heartrate.Encode(bpm))
				}
			}
		}
	})
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.stop)

	l.central.mu.Lock()
	if l.central.link == l {
		l.central.link = nil
	}
	l.central.mu.Unlock()
	return nil
}

func (l *Link) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

var (
	_ device.Central = (*Central)(nil)
	_ device.Link    = (*Link)(nil)
)
