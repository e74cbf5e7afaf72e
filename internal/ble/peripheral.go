package ble

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/catshare/engine/internal/engineerr"
	"github.com/catshare/engine/internal/wire"
)

// P2pWrite is the event the advertiser surfaces to the orchestrator
// when a central writes CHAR_P2P: the raw base64-ciphertext bytes and
// the writer's address. The advertiser holds the sender half of this
// channel; the orchestrator holds the receiver half, replying later
// via SetP2pResponse. This avoids a back-reference from advertiser to
// orchestrator.
type P2pWrite struct {
	PeerMAC string
	Payload []byte
}

// GattServer abstracts the peripheral (GATT server + Legacy advertiser)
// role for testing.
type GattServer interface {
	// Enable powers on the BLE adapter in peripheral mode.
	Enable() error
	// StartAdvertising publishes the Legacy advertising + scan-response
	// frames and registers the GATT application. The returned handle is
	// a scoped resource.
	StartAdvertising(identity wire.IdentityFrame, deviceName string) (AdvertisementHandle, error)
	// PublishStatus atomically replaces CHAR_STATUS and notifies subscribers.
	PublishStatus(data []byte) error
	// OnP2pWrite registers the callback invoked whenever a central
	// writes CHAR_P2P. Only one callback is supported.
	OnP2pWrite(callback func(P2pWrite))
	// SetP2pResponse populates CHAR_P2P for the following read.
	SetP2pResponse(data []byte) error
}

// AdvertisementHandle is the scoped resource returned by
// StartAdvertising: dropping it via Stop unregisters the advertisement
// and the GATT application so the BlueZ adapter can be reused by a
// later session.
type AdvertisementHandle interface {
	Stop() error
}

// Advertiser drives the C4 peripheral role: publishing DeviceInfo and
// handling a single pending CHAR_P2P exchange at a time.
type Advertiser struct {
	server GattServer

	mu      sync.Mutex
	pending bool // a P2P write is awaiting SetP2pResponse
	handle  AdvertisementHandle
}

// NewAdvertiser builds an Advertiser over the given GattServer.
func NewAdvertiser(server GattServer) *Advertiser {
	return &Advertiser{server: server}
}

// StartAdvertising publishes both advertising frames and the initial
// DeviceInfo, and arms the CHAR_P2P write handler. At most one pending
// transfer is allowed per advertiser instance; writes that arrive while
// an exchange is pending are dropped without invoking onP2pWrite, and
// the central receives no error for them.
func (a *Advertiser) StartAdvertising(identity wire.IdentityFrame, deviceName string, info wire.DeviceInfo, onP2pWrite func(P2pWrite) ([]byte, error)) (AdvertisementHandle, error) {
	if err := a.server.Enable(); err != nil {
		return nil, engineerr.Wrap(engineerr.AdapterUnavailable, "enabling BLE peripheral", err)
	}

	handle, err := a.server.StartAdvertising(identity, deviceName)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.AdvertisementRejected, "starting advertisement", err)
	}
	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()

	statusBytes, err := json.Marshal(info)
	if err != nil {
		_ = handle.Stop()
		return nil, fmt.Errorf("ble: marshaling DeviceInfo: %w", err)
	}
	if err := a.server.PublishStatus(statusBytes); err != nil {
		_ = handle.Stop()
		return nil, engineerr.Wrap(engineerr.AdvertisementRejected, "publishing CHAR_STATUS", err)
	}

	a.server.OnP2pWrite(func(write P2pWrite) {
		a.mu.Lock()
		if a.pending {
			a.mu.Unlock()
			return // one pending exchange at a time; later writes are dropped silently
		}
		a.pending = true
		a.mu.Unlock()

		response, err := onP2pWrite(write)

		a.mu.Lock()
		a.pending = false
		a.mu.Unlock()

		if err != nil {
			return
		}
		_ = a.server.SetP2pResponse(response)
	})

	return handle, nil
}
