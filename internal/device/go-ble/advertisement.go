package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/heartflot/internal/device"
)

// toAdvertisement converts a go-ble advertising report into the device form
// with normalized service UUIDs.
func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	services := adv.Services()
	uuids := make([]string, len(services))
	for i, svc := range services {
		uuids[i] = device.NormalizeUUID(svc.String())
	}
	return device.Advertisement{
		Address:  adv.Addr().String(),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: uuids,
	}
}

// advertises reports whether adv lists the wanted service UUID.
func advertises(adv ble.Advertisement, want ble.UUID) bool {
	for _, u := range adv.Services() {
		if want.Equal(u) {
			return true
		}
	}
	return false
}
