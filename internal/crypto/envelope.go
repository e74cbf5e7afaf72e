package crypto

import (
	"encoding/base64"
	"fmt"
)

// Encrypt encrypts plaintext with AES-256-CTR under the fixed IV and
// returns standard base64 (with padding), matching the encoding the
// reference implementation uses for the CHAR_P2P payload.
func Encrypt(key, plaintext []byte) (string, error) {
	ciphertext, err := EncryptRaw(key, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt is the inverse of Encrypt. It fails only on malformed
// base64 or a key that is not 32 bytes; a wrong key of the right size
// yields garbage, not an error — CTR mode carries no integrity check,
// by design (see spec.md's Non-goals).
func Decrypt(key []byte, b64ciphertext string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(b64ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode base64: %w", err)
	}
	return DecryptRaw(key, ciphertext)
}
