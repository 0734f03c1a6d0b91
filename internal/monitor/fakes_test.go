package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/heartrate"
	"github.com/srg/heartflot/internal/session"
	"github.com/srg/heartflot/internal/store"
)

func heartRateProfile() *device.Profile {
	return &device.Profile{Services: []device.ServiceInfo{
		{UUID: "180a", Characteristics: []device.CharacteristicInfo{{UUID: "2a29"}}},
		{UUID: heartrate.ServiceUUID, Characteristics: []device.CharacteristicInfo{
			{UUID: heartrate.MeasurementUUID, Notify: true},
			{UUID: "2a38"},
		}},
	}}
}

type fakeCentral struct {
	mu           sync.Mutex
	readyErr     error
	scanErr      error
	adverts      []device.Advertisement
	connectErr   error
	blockConnect bool
	profiles     map[string]*device.Profile
	links        []*fakeLink
	scans        atomic.Int32
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{profiles: map[string]*device.Profile{}}
}

func (c *fakeCentral) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyErr
}

func (c *fakeCentral) Scan(ctx context.Context, serviceUUID string, handler func(device.Advertisement)) error {
	c.scans.Add(1)
	c.mu.Lock()
	scanErr, adverts := c.scanErr, append([]device.Advertisement(nil), c.adverts...)
	c.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (c *fakeCentral) Connect(ctx context.Context, address string) (device.Link, error) {
	c.mu.Lock()
	block, connectErr := c.blockConnect, c.connectErr
	profile, ok := c.profiles[address]
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if !ok {
		profile = heartRateProfile()
	}

	link := newFakeLink(address, profile)
	c.mu.Lock()
	c.links = append(c.links, link)
	c.mu.Unlock()
	return link, nil
}

func (c *fakeCentral) lastLink() *fakeLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}

type fakeLink struct {
	address    string
	profile    *device.Profile
	mu         sync.Mutex
	handler    func([]byte)
	subscribed chan struct{}
	lost       chan struct{}
	lostOnce   sync.Once
	closed     atomic.Int32
}

func newFakeLink(address string, profile *device.Profile) *fakeLink {
	return &fakeLink{
		address:    address,
		profile:    profile,
		subscribed: make(chan struct{}),
		lost:       make(chan struct{}),
	}
}

func (l *fakeLink) Address() string { return l.address }

func (l *fakeLink) Discover(ctx context.Context) (*device.Profile, error) {
	return l.profile, nil
}

func (l *fakeLink) Subscribe(ctx context.Context, serviceUUID, charUUID string, handler func([]byte)) error {
	if _, err := l.profile.Find(serviceUUID, charUUID); err != nil {
		return err
	}
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	close(l.subscribed)
	return nil
}

func (l *fakeLink) Disconnected() <-chan struct{} { return l.lost }

func (l *fakeLink) Close() error {
	l.closed.Add(1)
	return nil
}

func (l *fakeLink) notify(bpm int) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	h(heartrate.Encode(bpm))
}

func (l *fakeLink) drop() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// failingStore rejects every append.
type failingStore struct {
	*store.Memory
}

func (f failingStore) Append(ctx context.Context, s session.Session) error {
	return errors.New("disk full")
}
