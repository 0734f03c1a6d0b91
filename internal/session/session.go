// Package session holds the recorded-session model and the recorder that
// builds sessions from the live sample stream.
package session

import (
	"time"

	"github.com/srg/heartflot/internal/heartrate"
)

// Session is one recording interval. It is the persisted record format.
type Session struct {
	ID            string             `json:"sessionId"`
	StartTime     int64              `json:"startTime"` // Unix milliseconds
	EndTime       int64              `json:"endTime"`   // Unix milliseconds
	DeviceName    *string            `json:"deviceName"`
	DeviceAddress *string            `json:"deviceAddress"`
	Note          string             `json:"note"`
	Samples       []heartrate.Sample `json:"samples"`
}

// Stats are derived from the samples on demand.
type Stats struct {
	Count   int `json:"count"`
	Average int `json:"average"`
	Min     int `json:"min"`
	Max     int `json:"max"`
}

// Stats computes count and average/min/max BPM. The average truncates;
// an empty session yields zeros.
func (s *Session) Stats() Stats {
	if len(s.Samples) == 0 {
		return Stats{}
	}

	st := Stats{Count: len(s.Samples), Min: s.Samples[0].BPM, Max: s.Samples[0].BPM}
	sum := 0
	for _, sample := range s.Samples {
		sum += sample.BPM
		st.Min = min(st.Min, sample.BPM)
		st.Max = max(st.Max, sample.BPM)
	}
	st.Average = sum / len(s.Samples)
	return st
}

// Duration is the span between the first and last sample.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.EndTime-s.StartTime) * time.Millisecond
}

// Start returns StartTime as a time.Time.
func (s *Session) Start() time.Time {
	return time.UnixMilli(s.StartTime)
}

// Device returns the best available device label, or "" when unknown.
func (s *Session) Device() string {
	switch {
	case s.DeviceName != nil && *s.DeviceName != "":
		return *s.DeviceName
	case s.DeviceAddress != nil:
		return *s.DeviceAddress
	default:
		return ""
	}
}
