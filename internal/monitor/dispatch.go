package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/groutine"
	"github.com/srg/heartflot/internal/heartrate"
)

func (m *Monitor) run(ctx context.Context) {
	defer m.stopOnce.Do(func() { close(m.done) })

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case e := <-m.inbox:
			if cmd, ok := e.(shutdownCmd); ok {
				m.shutdown()
				cmd.respond(nil)
				return
			}
			m.dispatch(e)
		}
	}
}

// dispatch is the only place the live state changes.
func (m *Monitor) dispatch(e event) {
	switch ev := e.(type) {
	case startScanCmd:
		ev.respond(m.startScan())
	case stopScanCmd:
		m.stopScan()
		ev.respond(nil)
	case connectCmd:
		ev.respond(m.connect(ev.address))
	case disconnectCmd:
		m.disconnect(nil)
		ev.respond(nil)
	case recordCmd:
		ev.respond(m.record(ev.op))
	case overlayCmd:
		m.state.OverlayVisible = ev.visible
		m.publish()
		ev.respond(nil)
	case clearErrorCmd:
		if m.state.LastError != nil {
			m.state.LastError = nil
			m.publish()
		}
		ev.respond(nil)

	case advertisementEvt:
		if ev.gen != m.scanGen || m.state.Connection.Status != StatusScanning {
			m.dropStale("advertisement", ev.gen, m.scanGen)
			return
		}
		m.registry.Upsert(device.Peripheral{Address: ev.adv.Address, Name: ev.adv.Name, RSSI: ev.adv.RSSI})
	case scanEndedEvt:
		if ev.gen != m.scanGen {
			m.dropStale("scan ended", ev.gen, m.scanGen)
			return
		}
		if ev.err != nil {
			m.logger.WithField("error", ev.err).Error("Scan failed")
			m.setError(ev.err)
		}
		m.stopScan()
	case scanTimeoutEvt:
		if ev.token != m.scanTimer.Generation() {
			m.dropStale("scan timeout", ev.token, m.scanTimer.Generation())
			return
		}
		m.logger.WithField("timeout", m.scanTimer.Window()).Info("Scan window elapsed")
		m.stopScan()
	case linkUpEvt:
		m.linkUp(ev)
	case connectFailedEvt:
		if ev.gen != m.linkGen {
			m.dropStale("connect failure", ev.gen, m.linkGen)
			return
		}
		m.logger.WithField("error", ev.err).Error("Failed to connect")
		m.disconnect(ev.err)
	case connectTimeoutEvt:
		if m.connTimer == nil || ev.token != m.connTimer.Generation() || m.state.Connection.Status != StatusConnecting {
			return
		}
		m.disconnect(device.NewError(device.KindConnectionLost, "sensor did not respond within %s", m.connTimer.Window()))
	case profileEvt:
		m.profileDiscovered(ev)
	case subscribedEvt:
		if ev.gen != m.linkGen {
			m.dropStale("subscription", ev.gen, m.linkGen)
			return
		}
		if ev.err != nil {
			m.disconnect(ev.err)
			return
		}
		m.logger.WithField("generation", ev.gen).Info("Heart-rate notifications enabled")
	case notificationEvt:
		m.notification(ev)
	case linkLostEvt:
		if ev.gen != m.linkGen {
			m.dropStale("link lost", ev.gen, m.linkGen)
			return
		}
		m.disconnect(device.NewError(device.KindConnectionLost, "link to %s dropped", m.peripheralName()))
	case staleEvt:
		if ev.token != m.stale.Generation() || m.state.Connection.Status != StatusConnected {
			m.dropStale("staleness timeout", ev.token, m.stale.Generation())
			return
		}
		m.logger.WithField("window", m.stale.Window()).Warn("No heart-rate data; dropping connection")
		m.disconnect(device.NewError(device.KindConnectionLost, "no heart-rate data for %s", m.stale.Window()))
	case persistenceFailedEvt:
		m.setError(ev.err)
	default:
		m.logger.WithField("event", e).Error("Unhandled monitor event")
	}
}

func (m *Monitor) startScan() error {
	switch m.state.Connection.Status {
	case StatusScanning:
		return nil
	case StatusDisconnected:
	default:
		return device.NewError(device.KindBusy, "cannot scan while %s", m.state.Connection.Status)
	}

	if err := m.central.Ready(); err != nil {
		m.setError(err)
		return err
	}

	m.registry.Reset()
	m.scanGen++
	gen := m.scanGen
	ctx, cancel := context.WithCancel(m.ctx)
	m.scanCancel = cancel
	m.state.Connection = Connection{Status: StatusScanning}
	m.scanTimer.Arm()
	m.publish()

	m.logger.WithFields(logrus.Fields{
		"generation": gen,
		"timeout":    m.scanTimer.Window(),
	}).Info("Scanning for heart-rate sensors...")

	groutine.Go(ctx, "scan", func(ctx context.Context) {
		err := m.central.Scan(ctx, heartrate.ServiceUUID, func(adv device.Advertisement) {
			m.post(advertisementEvt{gen: gen, adv: adv})
		})
		m.post(scanEndedEvt{gen: gen, err: err})
	})
	return nil
}

func (m *Monitor) stopScan() {
	if m.state.Connection.Status != StatusScanning {
		return
	}
	m.scanTimer.Disarm()
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.scanGen++
	m.state.Connection = Connection{Status: StatusDisconnected}
	m.publish()

	m.logger.WithField("devices", m.registry.Len()).Info("Scan stopped")
}

func (m *Monitor) connect(address string) error {
	if err := device.ValidateAddress(address); err != nil {
		return err
	}

	m.stopScan()
	if m.link != nil || m.state.Connection.Status == StatusConnecting {
		m.disconnect(nil)
	}
	if err := m.central.Ready(); err != nil {
		m.setError(err)
		return err
	}

	peripheral, ok := m.registry.Get(address)
	if !ok {
		peripheral = device.Peripheral{Address: address}
	}

	m.linkGen++
	gen := m.linkGen
	ctx, cancel := context.WithCancel(m.ctx)
	m.linkCancel = cancel
	m.state.Connection = Connection{Status: StatusConnecting, Peripheral: &peripheral}
	if m.connTimer != nil {
		m.connTimer.Arm()
	}
	m.publish()

	m.logger.WithFields(logrus.Fields{
		"address":    address,
		"name":       peripheral.Name,
		"generation": gen,
	}).Info("Connecting to heart-rate sensor...")

	groutine.Go(ctx, "connect", func(ctx context.Context) {
		link, err := m.central.Connect(ctx, address)
		if err != nil {
			m.post(connectFailedEvt{gen: gen, err: err})
			return
		}
		m.post(linkUpEvt{gen: gen, link: link})
	})
	return nil
}

func (m *Monitor) linkUp(ev linkUpEvt) {
	if ev.gen != m.linkGen || m.state.Connection.Status != StatusConnecting {
		m.dropStale("link up", ev.gen, m.linkGen)
		m.closeLink(ev.link)
		return
	}
	if m.connTimer != nil {
		m.connTimer.Disarm()
	}

	m.link = ev.link
	m.state.Connection.Status = StatusConnected
	if m.opts.OverlayOnConnect {
		m.state.OverlayVisible = true
	}
	m.stale.Arm()
	m.publish()

	m.logger.WithFields(logrus.Fields{
		"address":    ev.link.Address(),
		"generation": ev.gen,
	}).Info("Connected; discovering services...")

	gen, link := ev.gen, ev.link
	ctx := m.linkContext()
	groutine.Go(ctx, "link-watch", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			m.post(linkLostEvt{gen: gen})
		case <-ctx.Done():
		}
	})
	groutine.Go(ctx, "discover", func(ctx context.Context) {
		profile, err := link.Discover(ctx)
		m.post(profileEvt{gen: gen, profile: profile, err: err})
	})
}

func (m *Monitor) profileDiscovered(ev profileEvt) {
	if ev.gen != m.linkGen || m.link == nil {
		m.dropStale("profile", ev.gen, m.linkGen)
		return
	}
	if ev.err != nil {
		m.disconnect(ev.err)
		return
	}
	if _, err := ev.profile.Find(heartrate.ServiceUUID, heartrate.MeasurementUUID); err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": m.link.Address(),
			"error":   err,
		}).Error("Device is not a usable heart-rate sensor")
		m.disconnect(err)
		return
	}

	gen, link := ev.gen, m.link
	groutine.Go(m.linkContext(), "subscribe", func(ctx context.Context) {
		err := link.Subscribe(ctx, heartrate.ServiceUUID, heartrate.MeasurementUUID, func(data []byte) {
			payload := append([]byte(nil), data...)
			m.post(notificationEvt{gen: gen, payload: payload, at: time.Now()})
		})
		m.post(subscribedEvt{gen: gen, err: err})
	})
}

func (m *Monitor) notification(ev notificationEvt) {
	if ev.gen != m.linkGen || m.state.Connection.Status != StatusConnected {
		m.dropStale("notification", ev.gen, m.linkGen)
		return
	}

	sample := heartrate.NewSample(ev.payload, ev.at)
	m.stale.Arm()
	m.recorder.OnSample(sample)

	m.state.CurrentBPM = sample.BPM
	m.state.LastSample = &sample
	m.state.Recent = append(m.state.Recent, sample)
	if over := len(m.state.Recent) - m.opts.RecentWindow; over > 0 {
		m.state.Recent = append(m.state.Recent[:0], m.state.Recent[over:]...)
	}
	m.publish()

	m.logger.WithFields(logrus.Fields{
		"bpm":       sample.BPM,
		"recording": m.recorder.Armed(),
	}).Debug("Heart-rate sample")
}

// disconnect tears the connection down. A non-nil cause is surfaced as the
// user-facing error. An active recording is finalized first.
func (m *Monitor) disconnect(cause error) {
	if m.recorder.Armed() {
		m.recorder.Stop()
	}
	m.stale.Disarm()
	if m.connTimer != nil {
		m.connTimer.Disarm()
	}
	if m.linkCancel != nil {
		m.linkCancel()
		m.linkCancel = nil
	}
	m.linkGen++

	wasActive := m.link != nil || m.state.Connection.Status == StatusConnecting || m.state.Connection.Status == StatusConnected
	if m.link != nil {
		m.closeLink(m.link)
		m.link = nil
	}

	if m.state.Connection.Status != StatusScanning {
		m.state.Connection = Connection{Status: StatusDisconnected}
	}
	m.state.CurrentBPM = 0
	m.state.LastSample = nil
	m.state.Recent = nil
	if wasActive {
		m.state.OverlayVisible = false
	}
	if cause != nil {
		m.setError(cause)
	}
	m.publish()

	if wasActive {
		fields := logrus.Fields{"generation": m.linkGen}
		if cause != nil {
			fields["error"] = cause
		}
		m.logger.WithFields(fields).Info("Disconnected")
	}
}

func (m *Monitor) record(op recordOp) error {
	connected := m.state.Connection.Status == StatusConnected
	var err error
	switch op {
	case recordStart:
		err = m.recorder.Start(connected, m.state.Connection.Peripheral)
	case recordStop:
		m.recorder.Stop()
	default:
		_, err = m.recorder.Toggle(connected, m.state.Connection.Peripheral)
	}
	if err != nil {
		m.setError(err)
	}
	m.publish()
	return err
}

func (m *Monitor) shutdown() {
	m.stopScan()
	m.disconnect(nil)
	m.scanTimer.Disarm()
	m.logger.Debug("Monitor dispatcher stopped")
}

func (m *Monitor) setError(err error) {
	m.state.LastError = &UserError{
		Kind:    device.KindOf(err),
		Message: err.Error(),
		At:      time.Now(),
	}
	m.publish()
}

func (m *Monitor) closeLink(link device.Link) {
	if link == nil {
		return
	}
	groutine.Go(context.Background(), "link-close", func(context.Context) {
		if err := link.Close(); err != nil {
			m.logger.WithFields(logrus.Fields{
				"address": link.Address(),
				"error":   err,
			}).Warn("Link closed with errors")
		}
	})
}

// linkContext is canceled when the current link is torn down.
func (m *Monitor) linkContext() context.Context {
	ctx, cancel := context.WithCancel(m.ctx)
	prev := m.linkCancel
	m.linkCancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	return ctx
}

func (m *Monitor) peripheralName() string {
	if p := m.state.Connection.Peripheral; p != nil {
		return p.DisplayName()
	}
	return "sensor"
}

func (m *Monitor) dropStale(what string, got, current uint64) {
	m.logger.WithFields(logrus.Fields{
		"event":      what,
		"generation": got,
		"current":    current,
	}).Debug("Dropping stale callback")
}
