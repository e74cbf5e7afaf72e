package transfer

import (
	"bytes"
	"testing"
)

func TestEncodeThumbnailRejectsOversize(t *testing.T) {
	big := bytes.Repeat([]byte{0xFF}, MaxThumbnailBytes+1)
	if _, err := EncodeThumbnail(big); err == nil {
		t.Fatal("EncodeThumbnail accepted an oversize thumbnail")
	}
}

func TestEncodeDecodeThumbnailRoundTrip(t *testing.T) {
	png := []byte("not really a png but bytes are bytes")
	encoded, err := EncodeThumbnail(png)
	if err != nil {
		t.Fatalf("EncodeThumbnail: %v", err)
	}
	decoded, ok := DecodeThumbnail(encoded)
	if !ok {
		t.Fatal("DecodeThumbnail reported failure on a valid thumbnail")
	}
	if !bytes.Equal(decoded, png) {
		t.Fatalf("decoded = %q, want %q", decoded, png)
	}
}

func TestDecodeThumbnailNeverFailsHard(t *testing.T) {
	if _, ok := DecodeThumbnail("not-base64!!"); ok {
		t.Fatal("DecodeThumbnail accepted invalid base64")
	}
	if _, ok := DecodeThumbnail(""); ok {
		t.Fatal("DecodeThumbnail accepted empty string")
	}
}
