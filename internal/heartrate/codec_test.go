package heartrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected int
	}{
		{name: "empty payload is zero", payload: nil, expected: 0},
		{name: "uint8 format", payload: []byte{0x00, 75}, expected: 75},
		{name: "uint8 format reads unsigned", payload: []byte{0x00, 0xC8}, expected: 200},
		{name: "uint8 format ignores other flag bits", payload: []byte{0x16, 61, 0x10, 0x03}, expected: 61},
		{name: "uint16 little endian", payload: []byte{0x01, 0x2C, 0x01}, expected: 300},
		{name: "uint16 with RR intervals", payload: []byte{0x11, 80, 0x00, 0x20, 0x03}, expected: 80},
		{name: "flags only", payload: []byte{0x00}, expected: 0},
		{name: "truncated uint16", payload: []byte{0x01, 0x50}, expected: 0},
		{name: "zero reading", payload: []byte{0x00, 0x00}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decode(tt.payload))
		})
	}
}

func TestDecode_AllUint8Values(t *testing.T) {
	for flags := 0; flags < 256; flags += 2 { // bit 0 clear
		for v := 0; v < 256; v++ {
			if got := Decode([]byte{byte(flags), byte(v)}); got != v {
				t.Fatalf("Decode(%#x, %d) = %d", flags, v, got)
			}
		}
	}
}

func TestDecode_Uint16Values(t *testing.T) {
	for _, v := range []int{0, 1, 255, 256, 0x1234, 0xffff} {
		payload := []byte{0x01, byte(v), byte(v >> 8)}
		assert.Equal(t, v, Decode(payload), "payload %v", payload)
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, v := range []int{0, 72, 255, 256, 1000} {
		assert.Equal(t, v, Decode(Encode(v)))
	}
	assert.Equal(t, 0, Decode(Encode(-5)))
}

func TestDecode_DoesNotAllocate(t *testing.T) {
	payload := []byte{0x01, 0x2C, 0x01}
	allocs := testing.AllocsPerRun(100, func() {
		_ = Decode(payload)
	})
	assert.Zero(t, allocs)
}

func TestNewSample(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	s := NewSample([]byte{0x00, 88}, at)
	assert.Equal(t, Sample{Timestamp: 1_700_000_000_123, BPM: 88}, s)
	assert.True(t, s.Time().Equal(at))
}
