package transfer

import (
	"encoding/base64"

	"github.com/catshare/engine/internal/engineerr"
)

// MaxThumbnailBytes bounds the decoded size of a sendRequest thumbnail.
// spec.md leaves the limit unspecified; this cap keeps a malicious or
// buggy sender from forcing a huge allocation on the receiver.
const MaxThumbnailBytes = 512 * 1024

// EncodeThumbnail base64-encodes png, rejecting it outright if it
// exceeds MaxThumbnailBytes so the sender never builds a sendRequest
// carrying an oversize thumbnail in the first place.
func EncodeThumbnail(png []byte) (string, error) {
	if len(png) > MaxThumbnailBytes {
		return "", engineerr.New(engineerr.IOError, "thumbnail exceeds maximum size")
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// DecodeThumbnail decodes a sendRequest's base64 thumbnail field. A
// decode failure or an oversize payload is never fatal to the transfer:
// the receiver simply proceeds without a preview image.
func DecodeThumbnail(encoded string) ([]byte, bool) {
	if encoded == "" {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	if len(raw) > MaxThumbnailBytes {
		return nil, false
	}
	return raw, true
}
