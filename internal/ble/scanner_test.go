package ble

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/catshare/engine/internal/wire"
)

func rawDeviceFor(mac string, identity wire.IdentityFrame, name string, rssi int) Device {
	nameFrame := wire.NameFrame{SenderID: identity.SenderID, DeviceName: name}
	return Device{
		Name: name,
		MAC:  mac,
		RSSI: rssi,
		ServiceData: map[string][]byte{
			hex16(identity.ServiceUUID()): identity.Pack(),
			hex16(wire.NameServiceUUID):   nameFrame.Pack(),
		},
	}
}

func hex16(v uint16) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{
		hexDigits[(v>>12)&0xf], hexDigits[(v>>8)&0xf],
		hexDigits[(v>>4)&0xf], hexDigits[v&0xf],
	})
}

func TestScannerDecodesAdvertisement(t *testing.T) {
	identity := wire.IdentityFrame{BrandID: 0x0085, Supports5GHz: true, SenderID: 0xAB12}
	raw := rawDeviceFor("AA:BB:CC:DD:EE:FF", identity, "CattyLinux", -50)

	adapter := newMockAdapter([]Device{raw})
	scanner := NewScanner(adapter)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var found []DiscoveredDevice
	_ = scanner.StartScan(ctx, func(d DiscoveredDevice) { found = append(found, d) })

	if len(found) != 1 {
		t.Fatalf("found %d devices, want 1", len(found))
	}
	d := found[0]
	if d.MAC != raw.MAC || d.Name != "CattyLinux" || d.BrandID != 0x0085 || !d.Supports5GHz || d.SenderID != 0xAB12 {
		t.Errorf("decoded device = %+v", d)
	}
}

func TestScannerSuppressesDuplicates(t *testing.T) {
	identity := wire.IdentityFrame{BrandID: 0x0001, SenderID: 0x0001}
	raw := rawDeviceFor("11:22:33:44:55:66", identity, "dev", -60)

	scanner := NewScanner(newMockAdapter(nil))
	_, changed := scanner.decodeAndDedupe(raw)
	if !changed {
		t.Fatal("first observation should always be reported")
	}

	_, changed = scanner.decodeAndDedupe(raw)
	if changed {
		t.Error("identical repeat observation should be suppressed")
	}

	raw2 := raw
	raw2.RSSI = raw.RSSI + 10
	_, changed = scanner.decodeAndDedupe(raw2)
	if !changed {
		t.Error("RSSI change > 6dB should be reported")
	}
}

func TestConnectAndReadStatus(t *testing.T) {
	adapter := newMockAdapter(nil)
	ctx := context.Background()

	info := wire.DeviceInfo{State: 0, Key: "QUJD", Mac: "AA:BB:CC:DD:EE:FF", CatShare: 1}
	raw, _ := json.Marshal(info)
	adapter.latestConnection().status.setValue(raw)

	got, conn, err := ConnectAndReadStatus(ctx, adapter, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("ConnectAndReadStatus() error = %v", err)
	}
	if got != info {
		t.Errorf("DeviceInfo = %+v, want %+v", got, info)
	}
	if conn == nil {
		t.Error("ConnectAndReadStatus() should return the connection")
	}
}

func TestWriteP2pRequest(t *testing.T) {
	adapter := newMockAdapter(nil)
	conn, _ := adapter.Connect(context.Background(), "mac")

	payload := []byte("ciphertext")
	if err := WriteP2pRequest(conn, payload); err != nil {
		t.Fatalf("WriteP2pRequest() error = %v", err)
	}

	mc := conn.(*mockConnection)
	if string(mc.p2p.lastWrite()) != string(payload) {
		t.Errorf("last write = %q, want %q", mc.p2p.lastWrite(), payload)
	}
}

func TestReadP2pResponseRetriesOnEmpty(t *testing.T) {
	adapter := newMockAdapter(nil)
	conn, _ := adapter.Connect(context.Background(), "mac")
	mc := conn.(*mockConnection)

	attempts := 0
	got, err := ReadP2pResponse(conn, func(time.Duration) {
		attempts++
		if attempts == 2 {
			mc.p2p.setValue([]byte("response"))
		}
	})
	if err != nil {
		t.Fatalf("ReadP2pResponse() error = %v", err)
	}
	if string(got) != "response" {
		t.Errorf("ReadP2pResponse() = %q, want %q", got, "response")
	}
	if attempts < 2 {
		t.Errorf("attempts = %d, want at least 2 retries before success", attempts)
	}
}

func TestReadP2pResponseTimesOutWhenAlwaysEmpty(t *testing.T) {
	adapter := newMockAdapter(nil)
	conn, _ := adapter.Connect(context.Background(), "mac")

	_, err := ReadP2pResponse(conn, func(time.Duration) {})
	if err == nil {
		t.Error("ReadP2pResponse() should fail when CHAR_P2P never populates")
	}
}
