// Package device defines the transport abstraction a heart-rate central is
// built on: the radio (Central), an established connection (Link), the GATT
// profile found on it, and the error taxonomy shared by every backend.
//
// Backends live in subpackages:
//   - go-ble: github.com/go-ble/ble (HCI sockets on Linux, CoreBluetooth on macOS)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ over D-Bus, CoreBluetooth, WinRT)
//   - sim: an in-process simulated heart-rate sensor
package device
