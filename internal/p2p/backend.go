// Package p2p orchestrates the Wi-Fi P2P/hotspot half of a transfer
// (C5): a sender creates a NetworkManager shared-mode access point (or
// falls back to a wpa_supplicant P2P group), and a receiver joins it.
package p2p

import (
	"context"

	"github.com/catshare/engine/internal/engineerr"
)

// CreateGroupOptions configures the sender-side hotspot.
type CreateGroupOptions struct {
	WifiInterface string // empty = let the backend choose
	SSID          string
	PSK           string
}

// GroupHandle is the scoped resource returned by CreateGroup.
type GroupHandle struct {
	SSID      string
	PSK       string
	MAC       string
	IPv4      string
	Interface string

	teardown func() error
}

// Teardown deactivates and deletes the ephemeral connection. Idempotent.
func (h *GroupHandle) Teardown() error {
	if h.teardown == nil {
		return nil
	}
	fn := h.teardown
	h.teardown = nil
	return fn()
}

// JoinHandle is the scoped resource returned by JoinGroup.
type JoinHandle struct {
	IPv4      string
	Interface string

	teardown func() error
}

// Teardown deactivates the connection. Idempotent.
func (h *JoinHandle) Teardown() error {
	if h.teardown == nil {
		return nil
	}
	fn := h.teardown
	h.teardown = nil
	return fn()
}

// Backend abstracts the Wi-Fi P2P/hotspot mechanism so the sender and
// receiver state machines don't depend on a specific backend. Only the
// sender path has a fallback (NetworkManager, then wpa_cli); the
// receiver always requires NetworkManager per spec §4.5.
type Backend interface {
	// CreateGroup brings up a hotspot the receiver can join.
	CreateGroup(ctx context.Context, opts CreateGroupOptions) (*GroupHandle, error)
	// JoinGroup joins a hotspot previously created by CreateGroup on
	// the peer. peerMAC is the peer's advertised MAC; NMBackend does not
	// fail the join when the associated BSSID differs from it.
	JoinGroup(ctx context.Context, ssid, psk, peerMAC string) (*JoinHandle, error)
}

// CreateGroupWithFallback tries each backend's CreateGroup in order,
// falling through on failure, per spec §4.5's sender strategy
// (NetworkManager, then wpa_cli). Returns HotspotBackendMissing if
// every backend fails.
func CreateGroupWithFallback(ctx context.Context, backends []Backend, opts CreateGroupOptions) (*GroupHandle, error) {
	var lastErr error
	for _, b := range backends {
		handle, err := b.CreateGroup(ctx, opts)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	return nil, engineerr.Wrap(engineerr.HotspotBackendMissing, "no Wi-Fi P2P backend available", lastErr)
}
