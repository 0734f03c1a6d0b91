package monitor

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/ringchan"
)

// publish freezes the live state into a new snapshot and fans it out.
// Slow subscribers lose their oldest snapshots, never the newest.
func (m *Monitor) publish() {
	m.state.Version++
	m.state.Recording = m.recorder.Armed()
	m.state.SessionID = m.recorder.SessionID()
	m.state.RecordedSamples = m.recorder.Len()

	snap := m.state.clone()

	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.published.Store(&snap)

	m.subscribers.Range(func(id uint64, rc *ringchan.RingChannel[Snapshot]) bool {
		if rc.Send(snap) {
			m.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"version":    snap.Version,
			}).Trace("Subscriber lagging; dropped oldest snapshot")
		}
		return true
	})

	overlay := snap.overlay()
	if overlay == m.lastOverlay {
		return
	}
	m.lastOverlay = overlay
	m.overlaySubs.Range(func(_ uint64, rc *ringchan.RingChannel[OverlayState]) bool {
		rc.Send(overlay)
		return true
	})
}

// Snapshot returns the latest published state.
func (m *Monitor) Snapshot() Snapshot {
	return *m.published.Load()
}

// Subscribe streams every published snapshot, starting with the current
// one. cancel releases the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	id := m.subID.Add(1)
	rc := ringchan.New[Snapshot](m.opts.SubscriberBuffer)

	m.pubMu.Lock()
	rc.Send(m.Snapshot())
	m.subscribers.Set(id, rc)
	m.pubMu.Unlock()

	return rc.C(), func() {
		m.subscribers.Del(id)
		rc.Close()
		m.logRelease("snapshot", id, rc.GetMetrics())
	}
}

// Overlay streams overlay state changes, starting with the current state.
func (m *Monitor) Overlay() (<-chan OverlayState, func()) {
	id := m.subID.Add(1)
	rc := ringchan.New[OverlayState](m.opts.SubscriberBuffer)

	m.pubMu.Lock()
	rc.Send(m.lastOverlay)
	m.overlaySubs.Set(id, rc)
	m.pubMu.Unlock()

	return rc.C(), func() {
		m.overlaySubs.Del(id)
		rc.Close()
		m.logRelease("overlay", id, rc.GetMetrics())
	}
}

func (m *Monitor) logRelease(stream string, id uint64, metrics ringchan.Metrics) {
	entry := m.logger.WithFields(logrus.Fields{
		"stream":      stream,
		"subscriber":  id,
		"sent":        metrics.Written,
		"overwritten": metrics.Overwritten,
	})
	if metrics.Overwritten > 0 {
		entry.Warn("Subscriber released after falling behind")
		return
	}
	entry.Debug("Subscriber released")
}
