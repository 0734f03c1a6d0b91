package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/heartrate"
)

// Sink receives finalized sessions. It must not block.
type Sink interface {
	Append(s Session)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s Session)

// Append calls f(s).
func (f SinkFunc) Append(s Session) { f(s) }

// Recorder accumulates samples while armed and hands a finished session to
// its sink on stop. Sessions without samples are never handed over.
type Recorder struct {
	sink   Sink
	logger *logrus.Logger

	mu      sync.Mutex
	armed   bool
	id      string
	device  *device.Peripheral
	samples []heartrate.Sample
}

// NewRecorder creates an idle recorder.
func NewRecorder(sink Sink, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Start arms the recorder with a fresh session id. It returns
// device.ErrNotConnected when there is no connected peripheral. Starting an
// armed recorder keeps the current session.
func (r *Recorder) Start(connected bool, dev *device.Peripheral) error {
	if !connected {
		return device.NewError(device.KindNotConnected, "connect to a heart-rate sensor before recording")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.armed {
		return nil
	}
	r.armed = true
	r.id = uuid.NewString()
	r.samples = nil
	r.device = nil
	if dev != nil {
		d := *dev
		r.device = &d
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": r.id,
		"device":     deviceLabel(r.device),
	}).Info("Recording started")
	return nil
}

// OnSample appends s while armed and is a no-op otherwise.
func (r *Recorder) OnSample(s heartrate.Sample) {
	r.mu.Lock()
	if r.armed {
		r.samples = append(r.samples, s)
	}
	r.mu.Unlock()
}

// Stop disarms the recorder. A non-empty buffer becomes a Session that is
// passed to the sink and returned; otherwise nil is returned.
func (r *Recorder) Stop() *Session {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return nil
	}
	r.armed = false
	id, dev, samples := r.id, r.device, r.samples
	r.id, r.device, r.samples = "", nil, nil
	r.mu.Unlock()

	fields := logrus.Fields{"session_id": id, "samples": len(samples)}
	if len(samples) == 0 {
		r.logger.WithFields(fields).Info("Recording stopped without samples; nothing saved")
		return nil
	}

	s := Session{
		ID:        id,
		StartTime: samples[0].Timestamp,
		EndTime:   samples[len(samples)-1].Timestamp,
		Samples:   samples,
	}
	if dev != nil {
		name, address := dev.Name, dev.Address
		s.DeviceName = &name
		s.DeviceAddress = &address
	}

	r.logger.WithFields(fields).Info("Recording stopped")
	if r.sink != nil {
		r.sink.Append(s)
	}
	return &s
}

// Toggle stops an armed recorder or starts an idle one. It reports whether
// the recorder is armed afterwards.
func (r *Recorder) Toggle(connected bool, dev *device.Peripheral) (bool, error) {
	if r.Armed() {
		r.Stop()
		return false, nil
	}
	if err := r.Start(connected, dev); err != nil {
		return false, err
	}
	return true, nil
}

// Armed reports whether samples are being recorded.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// SessionID returns the active session id, or "" when idle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func deviceLabel(p *device.Peripheral) string {
	if p == nil {
		return ""
	}
	return p.DisplayName()
}
