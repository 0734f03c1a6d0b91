// Package heartrate decodes Heart Rate Measurement notifications
// (service 0x180D, characteristic 0x2A37) into beats-per-minute samples.
package heartrate

import (
	"encoding/binary"
	"time"
)

// Well-known identifiers of the standard heart-rate profile, in the short
// form produced by bledb.NormalizeUUID.
const (
	ServiceUUID      = "180d"
	MeasurementUUID  = "2a37"
	ClientConfigUUID = "2902"
)

// flagUint16 is bit 0 of the flags byte: heart-rate value is a little-endian uint16.
const flagUint16 = 0x01

// Decode returns the heart rate carried by a Heart Rate Measurement payload.
//
// Byte 0 holds the flags. When bit 0 is clear the value is the uint8 at
// offset 1, otherwise it is the little-endian uint16 at offsets 1-2. Energy
// expended and RR-interval fields are ignored. An empty payload, or one
// truncated before the value, decodes to 0.
func Decode(payload []byte) int {
	if len(payload) == 0 {
		return 0
	}
	if payload[0]&flagUint16 == 0 {
		if len(payload) < 2 {
			return 0
		}
		return int(payload[1])
	}
	if len(payload) < 3 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(payload[1:]))
}

// Encode builds a minimal Heart Rate Measurement payload for bpm, using the
// uint8 format when the value fits and the uint16 format otherwise.
func Encode(bpm int) []byte {
	if bpm < 0 {
		bpm = 0
	}
	if bpm <= 0xff {
		return []byte{0x00, byte(bpm)}
	}
	return []byte{flagUint16, byte(bpm), byte(bpm >> 8)}
}

// Sample is one decoded reading.
type Sample struct {
	Timestamp int64 `json:"timestamp"` // wall clock, Unix milliseconds
	BPM       int   `json:"bpm"`
}

// NewSample decodes payload and stamps it with at.
func NewSample(payload []byte, at time.Time) Sample {
	return Sample{Timestamp: at.UnixMilli(), BPM: Decode(payload)}
}

// Time returns the sample timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}
