package monitor

import (
	"time"

	"github.com/srg/heartflot/internal/device"
	"github.com/srg/heartflot/internal/heartrate"
)

// Status is the connection state. Disconnected doubles as idle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusScanning     Status = "scanning"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Connection is the process-wide connection state. Peripheral is set while
// connecting or connected.
type Connection struct {
	Status     Status             `json:"status"`
	Peripheral *device.Peripheral `json:"peripheral,omitempty"`
}

// UserError is the single user-facing error slot. A newer error replaces it;
// ClearError empties it.
type UserError struct {
	Kind    device.Kind `json:"kind"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Snapshot is the published state. Every mutation publishes a new value
// with a higher Version. Snapshots are never mutated after publishing.
type Snapshot struct {
	Version         uint64              `json:"version"`
	Connection      Connection          `json:"connection"`
	CurrentBPM      int                 `json:"currentBpm"`
	LastSample      *heartrate.Sample   `json:"lastSample,omitempty"`
	Recent          []heartrate.Sample  `json:"recent"`
	Devices         []device.Peripheral `json:"devices"`
	Recording       bool                `json:"recording"`
	SessionID       string              `json:"sessionId,omitempty"`
	RecordedSamples int                 `json:"recordedSamples"`
	OverlayVisible  bool                `json:"overlayVisible"`
	LastError       *UserError          `json:"lastError,omitempty"`
}

// Connected reports whether a sensor link is up.
func (s Snapshot) Connected() bool {
	return s.Connection.Status == StatusConnected
}

// OverlayState is the subset pushed to the floating overlay. It is only
// published when one of its fields changes.
type OverlayState struct {
	BPM       int  `json:"bpm"`
	Recording bool `json:"recording"`
	Visible   bool `json:"visible"`
	Connected bool `json:"connected"`
}

func (s Snapshot) overlay() OverlayState {
	return OverlayState{
		BPM:       s.CurrentBPM,
		Recording: s.Recording,
		Visible:   s.OverlayVisible,
		Connected: s.Connected(),
	}
}

// clone deep-copies the parts of s the dispatcher keeps mutating.
func (s Snapshot) clone() Snapshot {
	out := s
	if s.Connection.Peripheral != nil {
		p := *s.Connection.Peripheral
		out.Connection.Peripheral = &p
	}
	if s.LastSample != nil {
		ls := *s.LastSample
		out.LastSample = &ls
	}
	if s.LastError != nil {
		le := *s.LastError
		out.LastError = &le
	}
	out.Recent = append([]heartrate.Sample(nil), s.Recent...)
	out.Devices = append([]device.Peripheral(nil), s.Devices...)
	return out
}
