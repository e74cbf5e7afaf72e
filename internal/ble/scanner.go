package ble

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/catshare/engine/internal/engineerr"
	"github.com/catshare/engine/internal/wire"
)

// DiscoveredDevice is the decoded, deduplicated form of a raw Device
// scan observation (spec §3).
type DiscoveredDevice struct {
	MAC          string
	Name         string
	BrandID      uint16
	RSSI         int
	Supports5GHz bool
	SenderID     uint16
}

// Scanner runs passive/active BLE scans and decodes MTA advertisements,
// and drives the GATT client operations against a selected device.
type Scanner struct {
	adapter Adapter

	mu       sync.Mutex
	lastSeen map[string]DiscoveredDevice
}

// NewScanner builds a Scanner over the given Adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{
		adapter:  adapter,
		lastSeen: make(map[string]DiscoveredDevice),
	}
}

// StartScan enables the adapter and scans until ctx is cancelled,
// invoking onFound once per new-or-changed DiscoveredDevice. Duplicate
// suppression: for a given MAC, repeats are suppressed unless RSSI
// moved by more than 6 dB or the scan-response content changed.
func (s *Scanner) StartScan(ctx context.Context, onFound func(DiscoveredDevice)) error {
	if err := s.adapter.Enable(); err != nil {
		return engineerr.Wrap(engineerr.AdapterUnavailable, "enabling BLE adapter", err)
	}

	return s.adapter.Scan(ctx, func(raw Device) {
		dd, changed := s.decodeAndDedupe(raw)
		if changed {
			onFound(dd)
		}
	})
}

func (s *Scanner) decodeAndDedupe(raw Device) (DiscoveredDevice, bool) {
	identityData, identityUUID, ok := firstIdentityServiceData(raw.ServiceData)
	if !ok {
		return DiscoveredDevice{}, false
	}
	identity, err := wire.ParseIdentityFrame(identityUUID, identityData)
	if err != nil {
		return DiscoveredDevice{}, false
	}

	name := raw.Name
	if nameData, ok := raw.ServiceData[fmt.Sprintf("%04x", wire.NameServiceUUID)]; ok {
		if nf, err := wire.ParseNameFrame(nameData); err == nil {
			name = nf.DeviceName
		}
	}

	dd := DiscoveredDevice{
		MAC:          raw.MAC,
		Name:         name,
		BrandID:      identity.BrandID,
		RSSI:         raw.RSSI,
		Supports5GHz: identity.Supports5GHz,
		SenderID:     identity.SenderID,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.lastSeen[raw.MAC]
	s.lastSeen[raw.MAC] = dd
	if !seen {
		return dd, true
	}
	rssiDelta := dd.RSSI - prev.RSSI
	if rssiDelta < 0 {
		rssiDelta = -rssiDelta
	}
	if rssiDelta > 6 || prev.Name != dd.Name || prev.SenderID != dd.SenderID {
		return dd, true
	}
	return dd, false
}

// firstIdentityServiceData picks the identity service-data entry (UUID
// family 0x01XX/0x81XX) out of a raw scan's service-data map.
func firstIdentityServiceData(serviceData map[string][]byte) ([]byte, uint16, bool) {
	for uuidStr, data := range serviceData {
		var uuid uint16
		if _, err := fmt.Sscanf(uuidStr, "%04x", &uuid); err != nil {
			continue
		}
		if uuid&0x7f00 == 0x0100 {
			return data, uuid, true
		}
	}
	return nil, 0, false
}

// ConnectAndReadStatus opens a GATT client to mac and reads CHAR_STATUS
// in one round.
func ConnectAndReadStatus(ctx context.Context, adapter Adapter, mac string) (wire.DeviceInfo, Connection, error) {
	conn, err := adapter.Connect(ctx, mac)
	if err != nil {
		return wire.DeviceInfo{}, nil, engineerr.Wrap(engineerr.PeerDisconnected, "connecting to "+mac, err)
	}

	char, err := conn.DiscoverCharacteristic("", CharStatusUUID)
	if err != nil {
		_ = conn.Disconnect()
		return wire.DeviceInfo{}, nil, engineerr.Wrap(engineerr.AdapterUnavailable, "discovering CHAR_STATUS", err)
	}

	raw, err := char.Read()
	if err != nil {
		_ = conn.Disconnect()
		return wire.DeviceInfo{}, nil, engineerr.Wrap(engineerr.AdapterUnavailable, "reading CHAR_STATUS", err)
	}

	var info wire.DeviceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		_ = conn.Disconnect()
		return wire.DeviceInfo{}, nil, engineerr.Wrap(engineerr.CryptoDecodeFailed, "decoding DeviceInfo", err)
	}
	if err := info.Validate(); err != nil {
		_ = conn.Disconnect()
		return wire.DeviceInfo{}, nil, engineerr.Wrap(engineerr.CryptoDecodeFailed, "validating DeviceInfo", err)
	}

	return info, conn, nil
}

// WriteP2pRequest writes the encrypted P2P payload to CHAR_P2P.
func WriteP2pRequest(conn Connection, encryptedPayload []byte) error {
	char, err := conn.DiscoverCharacteristic("", CharP2PUUID)
	if err != nil {
		return engineerr.Wrap(engineerr.AdapterUnavailable, "discovering CHAR_P2P", err)
	}
	if err := char.Write(encryptedPayload); err != nil {
		return engineerr.Wrap(engineerr.PeerDisconnected, "writing CHAR_P2P", err)
	}
	return nil
}

// ReadP2pResponse reads CHAR_P2P after a write, retrying up to 3 times
// with a 500ms backoff on empty payloads: the peer may need a beat to
// populate its response.
func ReadP2pResponse(conn Connection, clock func(time.Duration)) ([]byte, error) {
	char, err := conn.DiscoverCharacteristic("", CharP2PUUID)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.AdapterUnavailable, "discovering CHAR_P2P", err)
	}

	const maxRetries = 3
	const backoff = 500 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		data, err := char.Read()
		if err != nil {
			return nil, engineerr.Wrap(engineerr.PeerDisconnected, "reading CHAR_P2P", err)
		}
		if len(data) > 0 {
			return data, nil
		}
		if attempt == maxRetries {
			break
		}
		if clock != nil {
			clock(backoff)
		} else {
			time.Sleep(backoff)
		}
	}
	return nil, engineerr.New(engineerr.Timeout, "CHAR_P2P remained empty after retries")
}
