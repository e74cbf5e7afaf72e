// Package crypto provides the cryptographic primitives for the MTA
// peer-to-peer key exchange: P-256 ECDH keypairs encoded as X.509
// SubjectPublicKeyInfo DER, and AES-256-CTR with the protocol's fixed
// ASCII IV. These choices are dictated by wire compatibility with the
// reference Android implementation — there is no KDF and no
// authenticated encryption here by design.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
)

// FixedIV is the 16-byte ASCII IV used for every AES-256-CTR operation
// on the wire: the literal bytes "0102030405060708".
var FixedIV = []byte("0102030405060708")

// GenerateKeypair returns a random P-256 private key and the SPKI DER
// encoding of its public key, ready to embed in a DeviceInfo or
// P2pInfo payload.
func GenerateKeypair() (*ecdh.PrivateKey, []byte, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	der, err := EncodeSPKI(priv.PublicKey())
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: encode spki: %w", err)
	}
	return priv, der, nil
}

// EncodeSPKI encodes a P-256 public key as X.509 SubjectPublicKeyInfo DER.
func EncodeSPKI(pub *ecdh.PublicKey) ([]byte, error) {
	ecdsaPub, err := toECDSAPublicKey(pub)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(ecdsaPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal pkix: %w", err)
	}
	return der, nil
}

// ParseSPKI decodes an X.509 SubjectPublicKeyInfo DER blob and returns
// the P-256 public key it contains. It rejects anything that is not an
// uncompressed P-256 point, including raw SEC1 keys (the wire protocol
// requires SPKI, never raw SEC1).
func ParseSPKI(der []byte) (*ecdh.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse spki: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: spki does not contain an EC public key")
	}
	if ecdsaPub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("crypto: spki public key is not on P-256")
	}
	ecdhPub, err := ecdsaPub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("crypto: not a valid point on the curve: %w", err)
	}
	return ecdhPub, nil
}

// toECDSAPublicKey converts an ecdh.PublicKey back to the *ecdsa.PublicKey
// shape x509.MarshalPKIXPublicKey expects, by re-decoding its uncompressed
// point encoding (0x04 || X(32) || Y(32)).
func toECDSAPublicKey(pub *ecdh.PublicKey) (*ecdsa.PublicKey, error) {
	raw := pub.Bytes()
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("crypto: unexpected public key encoding")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:65]),
	}, nil
}

// DeriveSharedSecret performs raw ECDH and returns the 32-byte X
// coordinate of the shared point, used verbatim as the AES-256 key. No
// KDF is applied — this matches the reference implementation's wire
// format exactly. Fails if the peer key fails point-on-curve validation
// (surfaced by ParseSPKI / the underlying ecdh package).
func DeriveSharedSecret(priv *ecdh.PrivateKey, peerSPKIDER []byte) ([]byte, error) {
	peerPub, err := ParseSPKI(peerSPKIDER)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid peer key: %w", err)
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}
	if len(secret) != 32 {
		return nil, fmt.Errorf("crypto: unexpected shared secret length %d", len(secret))
	}
	return secret, nil
}

// newCTRStream builds an AES-256-CTR keystream cipher seeded from the
// protocol's fixed IV. The key must be exactly 32 bytes.
func newCTRStream(key []byte) (cipher.Stream, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	if len(FixedIV) != block.BlockSize() {
		return nil, fmt.Errorf("crypto: iv length %d does not match block size %d", len(FixedIV), block.BlockSize())
	}
	return cipher.NewCTR(block, FixedIV), nil
}

// EncryptRaw encrypts plaintext with AES-256-CTR under the fixed IV,
// returning raw ciphertext bytes (no encoding applied). CTR is its own
// inverse, so Decrypt and Encrypt share this implementation.
func EncryptRaw(key, plaintext []byte) ([]byte, error) {
	stream, err := newCTRStream(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptRaw is the inverse of EncryptRaw.
func DecryptRaw(key, ciphertext []byte) ([]byte, error) {
	return EncryptRaw(key, ciphertext)
}
