package p2p

import (
	"crypto/rand"
	"fmt"
)

const pskCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateCredentials produces a fresh SSID/PSK pair for a hotspot
// group: SSID = "DIRECT-" + six lowercase hex characters, PSK = 16
// characters drawn from [A-Za-z0-9] via a cryptographic RNG.
func GenerateCredentials() (ssid, psk string, err error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", "", fmt.Errorf("p2p: generating SSID suffix: %w", err)
	}
	ssid = fmt.Sprintf("DIRECT-%02x%02x%02x", suffix[0], suffix[1], suffix[2])

	pskBytes := make([]byte, 16)
	if _, err := rand.Read(pskBytes); err != nil {
		return "", "", fmt.Errorf("p2p: generating PSK: %w", err)
	}
	out := make([]byte, 16)
	for i, b := range pskBytes {
		out[i] = pskCharset[int(b)%len(pskCharset)]
	}
	psk = string(out)

	return ssid, psk, nil
}
