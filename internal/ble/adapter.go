// Package ble implements the BLE discovery and key-exchange half of the
// MTA wire protocol: a GATT client role (C3, scanning + reading status +
// writing P2P info) and a GATT server / Legacy-advertiser role (C4,
// publishing status + handling incoming P2P writes). Both roles are
// built against small hardware-abstraction interfaces so the domain
// logic in scanner.go and peripheral.go can be exercised with mocks.
package ble

import "context"

// GATT UUIDs fixed by the MTA wire protocol (spec §4.2).
const (
	CharStatusUUID = "00009954-0000-1000-8000-00805f9b34fb"
	CharP2PUUID    = "00009953-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a single BLE GATT characteristic as seen
// from the central (client) role.
type Characteristic interface {
	// Read performs a single synchronous GATT read.
	Read() ([]byte, error)
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device is a discovered BLE peripheral, as surfaced by a raw adapter
// scan before MTA-specific decoding.
type Device struct {
	Name        string
	MAC         string
	RSSI        int
	ServiceData map[string][]byte // service-data UUID string -> raw payload
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE central (client/scanner) role for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals, invoking onDevice for every
	// observed advertisement until ctx is cancelled.
	Scan(ctx context.Context, onDevice func(Device)) error
	// Connect establishes a connection to the device with the given MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
}
