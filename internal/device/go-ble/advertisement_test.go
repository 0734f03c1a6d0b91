package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mockAdvertisement stubs the parts of ble.Advertisement the scanner reads.
type mockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *mockAdvertisement) LocalName() string { return m.Called().String(0) }
func (m *mockAdvertisement) RSSI() int         { return m.Called().Int(0) }
func (m *mockAdvertisement) Addr() ble.Addr    { return m.Called().Get(0).(ble.Addr) }
func (m *mockAdvertisement) Services() []ble.UUID {
	return m.Called().Get(0).([]ble.UUID)
}

type mockAddr struct {
	ble.Addr
	address string
}

func (a mockAddr) String() string { return a.address }

func newMockAdvertisement(name, address string, rssi int, services ...string) *mockAdvertisement {
	uuids := make([]ble.UUID, len(services))
	for i, s := range services {
		uuids[i] = ble.MustParse(s)
	}
	adv := &mockAdvertisement{}
	adv.On("LocalName").Return(name)
	adv.On("RSSI").Return(rssi)
	adv.On("Addr").Return(mockAddr{address: address})
	adv.On("Services").Return(uuids)
	return adv
}

func TestToAdvertisement(t *testing.T) {
	adv := newMockAdvertisement("Polar H10 A1B2C3", "c4:7c:8d:6a:1f:22", -61,
		"180d", "0000180f-0000-1000-8000-00805f9b34fb", "6e400001-b5a3-f393-e0a9-e50e24dcca9e")

	got := toAdvertisement(adv)

	assert.Equal(t, "c4:7c:8d:6a:1f:22", got.Address)
	assert.Equal(t, "Polar H10 A1B2C3", got.Name)
	assert.Equal(t, -61, got.RSSI)
	assert.Equal(t, []string{"180d", "180f", "6e400001b5a3f393e0a9e50e24dcca9e"}, got.Services)
}

func TestAdvertises(t *testing.T) {
	hr := ble.MustParse("180d")

	assert.True(t, advertises(newMockAdvertisement("", "aa", -50, "180f", "180d"), hr))
	assert.False(t, advertises(newMockAdvertisement("", "aa", -50, "180f"), hr))
	assert.False(t, advertises(newMockAdvertisement("", "aa", -50), hr))
}
