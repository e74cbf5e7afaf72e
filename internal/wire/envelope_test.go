package wire

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDeviceInfoRoundTripJSON(t *testing.T) {
	d := DeviceInfo{
		State:    0,
		Key:      base64.StdEncoding.EncodeToString([]byte("not-a-real-spki-but-valid-base64")),
		Mac:      "AA:BB:CC:DD:EE:FF",
		CatShare: 1,
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got DeviceInfo
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != d {
		t.Errorf("round-tripped DeviceInfo = %+v, want %+v", got, d)
	}

	raw2, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("second Marshal() error = %v", err)
	}
	if string(raw) != string(raw2) {
		t.Errorf("serialize->parse->serialize not byte-identical: %s vs %s", raw, raw2)
	}
}

func TestDeviceInfoValidateRejectsBadMac(t *testing.T) {
	d := DeviceInfo{Key: base64.StdEncoding.EncodeToString([]byte("x")), Mac: "not-a-mac", CatShare: 1}
	if err := d.Validate(); err == nil {
		t.Error("Validate() should reject a malformed mac")
	}
}

func TestDeviceInfoValidateRejectsBadKey(t *testing.T) {
	d := DeviceInfo{Key: "!!!not base64!!!", Mac: "AA:BB:CC:DD:EE:FF", CatShare: 1}
	if err := d.Validate(); err == nil {
		t.Error("Validate() should reject non-base64 key")
	}
}

func TestP2pInfoValidate(t *testing.T) {
	cases := []struct {
		name    string
		info    P2pInfo
		wantErr bool
	}{
		{"valid", P2pInfo{Ssid: "DIRECT-ab12cd", Psk: "abcdefgh12345678", Port: 30500}, false},
		{"empty ssid", P2pInfo{Ssid: "", Psk: "abcdefgh12345678", Port: 30500}, true},
		{"short psk", P2pInfo{Ssid: "DIRECT-ab12cd", Psk: "short", Port: 30500}, true},
		{"port zero", P2pInfo{Ssid: "DIRECT-ab12cd", Psk: "abcdefgh12345678", Port: 0}, true},
		{"port too big", P2pInfo{Ssid: "DIRECT-ab12cd", Psk: "abcdefgh12345678", Port: 70000}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.info.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewEnvelopeAndDecodeSendRequest(t *testing.T) {
	data := SendRequestData{
		Files:        []FileEntry{{Name: "photo.jpg", Size: 1024, ModifiedTime: 1700000000}},
		TotalSize:    1024,
		TotalFiles:   1,
		PackageType:  "single",
		SenderDevice: "CattyLinux",
	}

	env, err := NewEnvelope(MsgSendRequest, data)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if env.MsgType != MsgSendRequest {
		t.Errorf("MsgType = %q, want %q", env.MsgType, MsgSendRequest)
	}
	if env.MsgID == "" {
		t.Error("MsgID should not be empty")
	}

	got, err := DecodeSendRequest(env)
	if err != nil {
		t.Fatalf("DecodeSendRequest() error = %v", err)
	}
	if got.TotalFiles != 1 || got.PackageType != "single" || len(got.Files) != 1 {
		t.Errorf("DecodeSendRequest() = %+v, want matching %+v", got, data)
	}
}

func TestEnvelopeMarshalsMsgTypeAndMsgId(t *testing.T) {
	env, err := NewEnvelope(MsgVersionNegotiation, VersionNegotiationData{Version: "1.0"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, field := range []string{"msgType", "msgId", "data"} {
		if _, ok := generic[field]; !ok {
			t.Errorf("envelope JSON missing field %q: %s", field, raw)
		}
	}
}

func TestDecodeCancel(t *testing.T) {
	env, err := NewEnvelope(MsgCancel, CancelData{Reason: "user_cancelled", Message: "stopped by user"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	got, err := DecodeCancel(env)
	if err != nil {
		t.Fatalf("DecodeCancel() error = %v", err)
	}
	if got.Reason != "user_cancelled" {
		t.Errorf("Reason = %q, want user_cancelled", got.Reason)
	}
}
