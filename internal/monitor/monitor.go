// Package monitor owns the heart-rate sensor connection. Scanning,
// connecting, GATT discovery, notification handling, staleness detection
// and recording are all driven by one dispatcher goroutine; observers read
// published snapshots and never touch the live state.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/groutine"
	"github.com/srg/heartflot/internal/registry"
	"github.com/srg/heartflot/internal/ringchan"
	"github.com/srg/heartflot/internal/session"
	"github.com/srg/heartflot/internal/store"
	"github.com/srg/heartflot/internal/watchdog"
)

// ErrNotRunning is returned by commands issued before Start or after Close.
var ErrNotRunning = errors.New("monitor is not running")

// Options tune the monitor. Zero fields take the tagged defaults.
type Options struct {
	ScanTimeout      time.Duration `default:"10s"`
	StalenessTimeout time.Duration `default:"5s"`
	// ConnectTimeout abandons a connect attempt that never completes.
	// Zero disables it.
	ConnectTimeout   time.Duration
	RecentWindow     int `default:"60"`
	OverlayOnConnect bool
	SubscriberBuffer int `default:"16"`
	InboxSize        int `default:"256"`
}

// Monitor is the serialized core. Create it with New, then Start it.
type Monitor struct {
	central device.Central
	writer  *store.Writer
	opts    Options
	logger  *logrus.Logger

	inbox     chan event
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	stopOnce  sync.Once

	// owned by the dispatcher goroutine
	ctx        context.Context
	state      Snapshot
	registry   *registry.Registry
	recorder   *session.Recorder
	scanTimer  *watchdog.Watchdog
	stale      *watchdog.Watchdog
	connTimer  *watchdog.Watchdog
	scanGen    uint64
	scanCancel context.CancelFunc
	linkGen    uint64
	link       device.Link
	linkCancel context.CancelFunc

	// pubMu orders publishing against new subscriptions
	pubMu       sync.Mutex
	published   atomic.Pointer[Snapshot]
	lastOverlay OverlayState
	subID       atomic.Uint64
	subscribers *hashmap.Map[uint64, *ringchan.RingChannel[Snapshot]]
	overlaySubs *hashmap.Map[uint64, *ringchan.RingChannel[OverlayState]]
}

// New wires a monitor around a BLE central and a session store.
func New(central device.Central, st store.Store, opts Options, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	m := &Monitor{
		central:     central,
		opts:        opts,
		logger:      logger,
		inbox:       make(chan event, opts.InboxSize),
		done:        make(chan struct{}),
		subscribers: hashmap.New[uint64, *ringchan.RingChannel[Snapshot]](),
		overlaySubs: hashmap.New[uint64, *ringchan.RingChannel[OverlayState]](),
		state:       Snapshot{Connection: Connection{Status: StatusDisconnected}},
	}
	m.writer = store.NewWriter(st, logger, func(err error) {
		m.post(persistenceFailedEvt{err: err})
	})
	m.recorder = session.NewRecorder(m.writer, logger)
	m.registry = registry.New(func(list []device.Peripheral) {
		m.state.Devices = list
		m.publish()
	})
	m.scanTimer = watchdog.New(opts.ScanTimeout, func(token uint64) {
		m.post(scanTimeoutEvt{token: token})
	})
	m.stale = watchdog.New(opts.StalenessTimeout, func(token uint64) {
		m.post(staleEvt{token: token})
	})
	if opts.ConnectTimeout > 0 {
		m.connTimer = watchdog.New(opts.ConnectTimeout, func(token uint64) {
			m.post(connectTimeoutEvt{token: token})
		})
	}

	initial := m.state.clone()
	m.published.Store(&initial)
	return m
}

// Start runs the dispatcher until ctx is canceled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.ctx = ctx
	groutine.GoSafe(ctx, "monitor-dispatch", m.logger, nil, m.run)
}

// Close finalizes an active recording, disconnects, stops scanning, stops
// the dispatcher and flushes pending store writes.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		if m.started.Load() {
			cmd := shutdownCmd{newCommand()}
			_ = m.do(cmd, cmd.command)
			<-m.done
		} else {
			m.stopOnce.Do(func() { close(m.done) })
		}

		m.writer.Close()
		m.subscribers.Range(func(id uint64, rc *ringchan.RingChannel[Snapshot]) bool {
			rc.Close()
			return true
		})
		m.overlaySubs.Range(func(id uint64, rc *ringchan.RingChannel[OverlayState]) bool {
			rc.Close()
			return true
		})
	})
}

// StartScan begins a scan for heart-rate sensors. It is a no-op while
// scanning and fails with device.ErrBusy while connecting or connected.
func (m *Monitor) StartScan() error {
	cmd := startScanCmd{newCommand()}
	return m.do(cmd, cmd.command)
}

// StopScan ends a scan early. Idempotent.
func (m *Monitor) StopScan() error {
	cmd := stopScanCmd{newCommand()}
	return m.do(cmd, cmd.command)
}

// Connect tears down any existing connection, stops scanning and starts
// connecting to address. The result of the attempt is observed through
// snapshots.
func (m *Monitor) Connect(address string) error {
	cmd := connectCmd{command: newCommand(), address: address}
	return m.do(cmd, cmd.command)
}

// Disconnect drops the connection. Idempotent.
func (m *Monitor) Disconnect() error {
	cmd := disconnectCmd{newCommand()}
	return m.do(cmd, cmd.command)
}

// ToggleRecording stops an active recording or starts a new one.
func (m *Monitor) ToggleRecording() error {
	cmd := recordCmd{command: newCommand(), op: recordToggle}
	return m.do(cmd, cmd.command)
}

// StartRecording arms the recorder; device.ErrNotConnected without a sensor.
func (m *Monitor) StartRecording() error {
	cmd := recordCmd{command: newCommand(), op: recordStart}
	return m.do(cmd, cmd.command)
}

// StopRecording finalizes the active recording, if any.
func (m *Monitor) StopRecording() error {
	cmd := recordCmd{command: newCommand(), op: recordStop}
	return m.do(cmd, cmd.command)
}

// ShowOverlay marks the floating overlay visible.
func (m *Monitor) ShowOverlay() error {
	cmd := overlayCmd{command: newCommand(), visible: true}
	return m.do(cmd, cmd.command)
}

// HideOverlay marks the floating overlay hidden.
func (m *Monitor) HideOverlay() error {
	cmd := overlayCmd{command: newCommand(), visible: false}
	return m.do(cmd, cmd.command)
}

// ClearError acknowledges the current user-facing error.
func (m *Monitor) ClearError() error {
	cmd := clearErrorCmd{newCommand()}
	return m.do(cmd, cmd.command)
}

// DeleteSession removes a persisted session in the background.
func (m *Monitor) DeleteSession(id string) {
	m.writer.Delete(id)
}

// UpdateNote replaces the note of a persisted session in the background.
func (m *Monitor) UpdateNote(id, note string) {
	m.writer.Update(id, func(s *session.Session) { s.Note = note })
}

// ClearSessions removes every persisted session in the background.
func (m *Monitor) ClearSessions() {
	m.writer.Clear()
}

// Sessions lists persisted sessions, newest first, after pending writes land.
func (m *Monitor) Sessions(ctx context.Context) ([]session.Session, error) {
	m.writer.Flush()
	return m.writer.Store().List(ctx)
}

// Session returns one persisted session.
func (m *Monitor) Session(ctx context.Context, id string) (session.Session, error) {
	m.writer.Flush()
	return store.Get(ctx, m.writer.Store(), id)
}

// do hands an event to the dispatcher and waits for its reply.
func (m *Monitor) do(e event, c command) error {
	if !m.started.Load() {
		return ErrNotRunning
	}
	select {
	case m.inbox <- e:
	case <-m.done:
		return ErrNotRunning
	}
	select {
	case err := <-c.reply:
		return err
	case <-m.done:
		// the dispatcher may have answered right before exiting
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// post delivers a transport event. It never blocks past shutdown.
func (m *Monitor) post(e event) {
	select {
	case m.inbox <- e:
	case <-m.done:
	}
}
