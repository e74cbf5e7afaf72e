package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/catshare/engine/internal/wire"
)

// mockCharacteristic records writes/reads and allows subscribing, the
// same role mockCharacteristic played in the original client tests.
type mockCharacteristic struct {
	mu       sync.Mutex
	value    []byte
	writes   [][]byte
	callback func([]byte)
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) setValue(v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

func (c *mockCharacteristic) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

// mockConnection simulates a GATT connection exposing CHAR_STATUS and CHAR_P2P.
type mockConnection struct {
	mu           sync.Mutex
	status       *mockCharacteristic
	p2p          *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		status: &mockCharacteristic{},
		p2p:    &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	switch charUUID {
	case CharStatusUUID:
		return c.status, nil
	case CharP2PUUID:
		return c.p2p, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// mockAdapter simulates the BLE central role for scanner tests.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	connection *mockConnection
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices, connection: newMockConnection()}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, onDevice func(Device)) error {
	for _, d := range a.devices {
		onDevice(d)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connection == nil {
		a.connection = newMockConnection()
	}
	return a.connection, nil
}

func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

// mockGattServer simulates the peripheral role for advertiser tests.
type mockGattServer struct {
	mu         sync.Mutex
	status     []byte
	p2p        []byte
	onWrite    func(P2pWrite)
	started    bool
	stopped    bool
}

func (s *mockGattServer) Enable() error { return nil }

func (s *mockGattServer) StartAdvertising(identity wire.IdentityFrame, deviceName string) (AdvertisementHandle, error) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return &mockAdvertisementHandle{server: s}, nil
}

func (s *mockGattServer) PublishStatus(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = data
	return nil
}

func (s *mockGattServer) OnP2pWrite(cb func(P2pWrite)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = cb
}

func (s *mockGattServer) SetP2pResponse(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p2p = data
	return nil
}

// simulateP2pWrite lets a test drive the registered write callback as
// if a remote central had written CHAR_P2P.
func (s *mockGattServer) simulateP2pWrite(w P2pWrite) {
	s.mu.Lock()
	cb := s.onWrite
	s.mu.Unlock()
	if cb != nil {
		cb(w)
	}
}

type mockAdvertisementHandle struct {
	server *mockGattServer
}

func (h *mockAdvertisementHandle) Stop() error {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	h.server.stopped = true
	return nil
}
