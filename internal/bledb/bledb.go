// Package bledb normalizes Bluetooth SIG UUIDs and resolves the assigned
// names of the services and characteristics a heart-rate central deals with.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb, dashes removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1826": "Fitness Machine",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a19": "Battery Level",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
}

var descriptors = map[string]string{
	"2902": "Client Characteristic Configuration",
}

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, no braces, no 0x prefix. UUIDs built on the SIG base are reduced to
// their 16-bit short form, so "0000180D-0000-1000-8000-00805F9B34FB",
// "0x180d" and "180D" all normalize to "180d".
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.Trim(u, "{}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the assigned name of a service UUID, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor UUID, or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}
