package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/catshare/engine/internal/wire"
	"tinygo.org/x/bluetooth"
)

// BlueZCentralAdapter implements Adapter over the Linux BlueZ stack via
// tinygo.org/x/bluetooth's central (client) role. MAC addresses are
// real Bluetooth hardware addresses on Linux, unlike the CoreBluetooth
// UUID-keyed addressing tinygo.org/x/bluetooth uses on macOS.
type BlueZCentralAdapter struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	connections map[string]*bluezConnection // keyed by MAC
}

// NewBlueZCentralAdapter builds a central adapter over the host's
// default BlueZ controller.
func NewBlueZCentralAdapter() *BlueZCentralAdapter {
	return &BlueZCentralAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*bluezConnection),
	}
}

func (a *BlueZCentralAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		mac := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[mac]
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

// Scan filters on the MTA advertising UUID and surfaces every
// service-data entry present on the advertisement so the domain layer
// (scanner.go) can decode identity and name frames itself.
func (a *BlueZCentralAdapter) Scan(ctx context.Context, onDevice func(Device)) error {
	uuid, err := bluetooth.ParseUUID(wire.AdvertisingUUID)
	if err != nil {
		return fmt.Errorf("ble: parse advertising UUID: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()
	defer close(done)

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		onDevice(Device{
			Name:        result.LocalName(),
			MAC:         result.Address.String(),
			RSSI:        int(result.RSSI),
			ServiceData: serviceDataOf(result),
		})
	})

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// serviceDataOf extracts every advertised service-data element,
// including the Experimental ScanResponseServiceData BlueZ reports for
// Legacy scan-response frames, keyed by lowercase hex UUID.
func serviceDataOf(result bluetooth.ScanResult) map[string][]byte {
	out := make(map[string][]byte)
	for _, sd := range result.AdvertisementPayload.ServiceData() {
		out[fmt.Sprintf("%04x", sd.UUID.Get16Bit())] = sd.Data
	}
	return out
}

func (a *BlueZCentralAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(mac)

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		conn := &bluezConnection{device: &result.device}

		a.mu.Lock()
		a.connections[mac] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

var _ Adapter = (*BlueZCentralAdapter)(nil)

type bluezConnection struct {
	device       *bluetooth.Device
	disconnectCb func()
}

func (c *bluezConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	chars, err := c.discoverAny(charUUID)
	if err != nil {
		return nil, err
	}
	return &bluezCharacteristic{char: chars}, nil
}

func (c *bluezConnection) discoverAny(charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	wantChar, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{wantChar})
		if err != nil || len(chars) == 0 {
			continue
		}
		return &chars[0], nil
	}
	return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
}

func (c *bluezConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *bluezConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type bluezCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *bluezCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *bluezCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluezCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
