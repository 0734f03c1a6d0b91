package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/heartflot/internal/heartrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(bpms ...int) []heartrate.Sample {
	out := make([]heartrate.Sample, len(bpms))
	for i, b := range bpms {
		out[i] = heartrate.Sample{Timestamp: int64(1000 * (i + 1)), BPM: b}
	}
	return out
}

func TestStats(t *testing.T) {
	tests := []struct {
		name string
		bpms []int
		want Stats
	}{
		{name: "empty", bpms: nil, want: Stats{}},
		{name: "single", bpms: []int{72}, want: Stats{Count: 1, Average: 72, Min: 72, Max: 72}},
		{name: "truncating average", bpms: []int{60, 61}, want: Stats{Count: 2, Average: 60, Min: 60, Max: 61}},
		{name: "mixed", bpms: []int{90, 70, 110, 80}, want: Stats{Count: 4, Average: 87, Min: 70, Max: 110}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{Samples: samples(tt.bpms...)}
			assert.Equal(t, tt.want, s.Stats())
		})
	}
}

func TestDurationAndStart(t *testing.T) {
	s := Session{StartTime: 1_700_000_000_000, EndTime: 1_700_000_125_500}
	assert.Equal(t, 2*time.Minute+5500*time.Millisecond, s.Duration())
	assert.Equal(t, int64(1_700_000_000_000), s.Start().UnixMilli())
}

func TestDevice(t *testing.T) {
	name, addr, empty := "Polar H10", "AA:BB", ""

	assert.Equal(t, "Polar H10", (&Session{DeviceName: &name, DeviceAddress: &addr}).Device())
	assert.Equal(t, "AA:BB", (&Session{DeviceName: &empty, DeviceAddress: &addr}).Device())
	assert.Empty(t, (&Session{}).Device())
}

func TestRecordFormat(t *testing.T) {
	name := "Polar H10"
	s := Session{
		ID:         "abc",
		StartTime:  1000,
		EndTime:    2000,
		DeviceName: &name,
		Samples:    samples(70, 71),
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"sessionId": "abc",
		"startTime": 1000,
		"endTime": 2000,
		"deviceName": "Polar H10",
		"deviceAddress": null,
		"note": "",
		"samples": [{"timestamp": 1000, "bpm": 70}, {"timestamp": 2000, "bpm": 71}]
	}`, string(data))
}
