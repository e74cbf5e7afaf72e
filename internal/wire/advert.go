// Package wire implements the byte-level BLE advertisement/scan-response
// codec and the JSON envelope types exchanged over GATT and WebSocket.
// Every shape here is fixed by the incumbent Android implementation;
// bit-for-bit compatibility is mandatory, not a style choice.
package wire

import (
	"encoding/binary"
	"fmt"
)

// AdvertisingUUID is the 128-bit service UUID the scanner matches
// advertisements against.
const AdvertisingUUID = "00003331-0000-1000-8000-008123456789"

const (
	identityServiceDataLen = 6
	nameServiceDataLen     = 27
	deviceNameFieldLen     = 16
	nameTruncatedMarker    = 0x09
)

// IdentityFrame is the primary Legacy advertising frame: 6 payload bytes
// under service-data UUID 0x01XX (0x81XX when supports5GHz is set),
// where XX is the low byte of brandID.
type IdentityFrame struct {
	BrandID      uint16
	Supports5GHz bool
	SenderID     uint16
}

// ServiceUUID returns the 16-bit service-data UUID this frame is carried
// under: 0x01XX normally, 0x81XX when Supports5GHz is set.
func (f IdentityFrame) ServiceUUID() uint16 {
	uuid := uint16(0x0100) | (f.BrandID & 0x00ff)
	if f.Supports5GHz {
		uuid |= 0x8000
	}
	return uuid
}

// Pack encodes the identity frame's 6-byte payload: [sender_id_hi,
// sender_id_lo, 0, 0, 0, 0].
func (f IdentityFrame) Pack() []byte {
	buf := make([]byte, identityServiceDataLen)
	binary.BigEndian.PutUint16(buf[0:2], f.SenderID)
	return buf
}

// ParseIdentityFrame decodes a service UUID + 6-byte payload pair
// observed by the scanner into an IdentityFrame.
func ParseIdentityFrame(serviceUUID uint16, payload []byte) (IdentityFrame, error) {
	if len(payload) != identityServiceDataLen {
		return IdentityFrame{}, fmt.Errorf("wire: identity service data must be %d bytes, got %d", identityServiceDataLen, len(payload))
	}
	if serviceUUID&0x7f00 != 0x0100 {
		return IdentityFrame{}, fmt.Errorf("wire: service UUID %#04x is not an MTA identity UUID", serviceUUID)
	}
	return IdentityFrame{
		BrandID:      serviceUUID & 0x00ff,
		Supports5GHz: serviceUUID&0x8000 != 0,
		SenderID:     binary.BigEndian.Uint16(payload[0:2]),
	}, nil
}

// NameFrame is the scan-response frame: 27 bytes under service-data UUID
// 0xFFFF carrying the device name.
type NameFrame struct {
	SenderID   uint16
	DeviceName string
}

// NameServiceUUID is the fixed service-data UUID the scan-response frame
// is carried under.
const NameServiceUUID uint16 = 0xffff

// Pack encodes the scan-response frame's 27-byte payload: bytes 0..7 a
// zeroed protocol header, bytes 8..9 the sender id, bytes 10..25 the
// UTF-8 device name zero-padded to 16 bytes, byte 26 a truncation flag.
func (f NameFrame) Pack() []byte {
	buf := make([]byte, nameServiceDataLen)
	binary.BigEndian.PutUint16(buf[8:10], f.SenderID)

	nameBytes := []byte(f.DeviceName)
	truncated := false
	if len(nameBytes) > deviceNameFieldLen {
		nameBytes = nameBytes[:deviceNameFieldLen]
		truncated = true
	}
	copy(buf[10:10+deviceNameFieldLen], nameBytes)
	if truncated {
		buf[26] = nameTruncatedMarker
	}
	return buf
}

// ParseNameFrame decodes a scan-response payload into a NameFrame.
func ParseNameFrame(payload []byte) (NameFrame, error) {
	if len(payload) != nameServiceDataLen {
		return NameFrame{}, fmt.Errorf("wire: name service data must be %d bytes, got %d", nameServiceDataLen, len(payload))
	}
	senderID := binary.BigEndian.Uint16(payload[8:10])
	nameRaw := payload[10 : 10+deviceNameFieldLen]
	end := 0
	for end < len(nameRaw) && nameRaw[end] != 0 {
		end++
	}
	return NameFrame{
		SenderID:   senderID,
		DeviceName: string(nameRaw[:end]),
	}, nil
}
