package crypto

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"strings"
)

// handshakeSeparator joins the plaintext sender SPKI from the
// AES-256-CTR ciphertext on the CHAR_P2P wire value. The spec
// describes CHAR_P2P as carrying "encrypted base64 P2pInfo", but
// deriving a shared AES key requires each side already hold the
// other's public key; CHAR_STATUS supplies the advertiser's key, so
// the initiator's own key rides alongside its ciphertext in the clear
// (it is not secret: the advertiser's own key is already published in
// plaintext as DeviceInfo.key).
const handshakeSeparator = "."

// EncryptWithSenderKey derives a session key via ECDH(priv, peerSPKIDER),
// encrypts plaintext under it, and packs the caller's own public key
// alongside the ciphertext so the peer can derive the same session key
// on the other end. This is the value written to / read from CHAR_P2P.
func EncryptWithSenderKey(priv *ecdh.PrivateKey, peerSPKIDER, plaintext []byte) (string, []byte, error) {
	sessionKey, err := DeriveSharedSecret(priv, peerSPKIDER)
	if err != nil {
		return "", nil, err
	}
	ownDER, err := EncodeSPKI(priv.PublicKey())
	if err != nil {
		return "", nil, err
	}
	ciphertext, err := Encrypt(sessionKey, plaintext)
	if err != nil {
		return "", nil, err
	}
	wireValue := base64.StdEncoding.EncodeToString(ownDER) + handshakeSeparator + ciphertext
	return wireValue, sessionKey, nil
}

// DecryptWithSenderKey is the inverse of EncryptWithSenderKey: it splits
// the peer's public key back off the wire value, derives the same
// session key via ECDH(priv, peerSPKIDER), and decrypts the remainder.
func DecryptWithSenderKey(priv *ecdh.PrivateKey, wireValue string) (peerSPKIDER []byte, sessionKey, plaintext []byte, err error) {
	parts := strings.SplitN(wireValue, handshakeSeparator, 2)
	if len(parts) != 2 {
		return nil, nil, nil, fmt.Errorf("crypto: malformed handshake value, missing separator")
	}
	peerSPKIDER, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: decoding peer key: %w", err)
	}
	sessionKey, err = DeriveSharedSecret(priv, peerSPKIDER)
	if err != nil {
		return nil, nil, nil, err
	}
	plaintext, err = Decrypt(sessionKey, parts[1])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: decrypting payload: %w", err)
	}
	return peerSPKIDER, sessionKey, plaintext, nil
}
