package p2p

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/catshare/engine/internal/engineerr"
)

const wpaCliSocket = "/run/wpa_supplicant/global"

// WpaCliBackend is the sender-side fallback when NetworkManager is
// unreachable: it shells out to wpa_cli against the global control
// interface. It only implements CreateGroup; the receiver always
// requires NetworkManager's IPv4 lease semantics (spec §4.5).
type WpaCliBackend struct {
	// run executes wpa_cli with the given arguments and returns stdout.
	// Overridable in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

// NewWpaCliBackend builds a backend that shells out to the real
// wpa_cli binary.
func NewWpaCliBackend() *WpaCliBackend {
	return &WpaCliBackend{run: runWpaCli}
}

func runWpaCli(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-g", wpaCliSocket}, args...)
	cmd := exec.CommandContext(ctx, "wpa_cli", fullArgs...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("p2p: wpa_cli %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// CreateGroup issues `wpa_cli p2p_group_add` and parses the resulting
// interface name. Requires the caller to be in the group wpa_supplicant's
// control socket is accessible to.
func (b *WpaCliBackend) CreateGroup(ctx context.Context, opts CreateGroupOptions) (*GroupHandle, error) {
	out, err := b.run(ctx, "p2p_group_add")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotBackendMissing, "wpa_cli p2p_group_add", err)
	}
	if !strings.Contains(strings.ToUpper(out), "OK") && strings.TrimSpace(out) != "" {
		return nil, engineerr.New(engineerr.HotspotBackendMissing, "wpa_cli p2p_group_add rejected: "+strings.TrimSpace(out))
	}

	iface, err := b.run(ctx, "interface")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "wpa_cli interface", err)
	}
	ifaceName := firstP2pInterface(iface)
	if ifaceName == "" {
		return nil, engineerr.New(engineerr.HotspotActivationFailed, "no p2p-wlan interface reported by wpa_cli")
	}

	mac, err := hardwareAddress(ifaceName)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "reading hardware address", err)
	}

	return &GroupHandle{
		SSID:      opts.SSID,
		PSK:       opts.PSK,
		MAC:       mac,
		Interface: ifaceName,
		teardown: func() error {
			_, err := b.run(context.Background(), "p2p_group_remove", ifaceName)
			return err
		},
	}, nil
}

// JoinGroup is not supported by this backend: the receiver path always
// requires NetworkManager (spec §4.5).
func (b *WpaCliBackend) JoinGroup(ctx context.Context, ssid, psk, peerMAC string) (*JoinHandle, error) {
	return nil, engineerr.New(engineerr.HotspotBackendMissing, "wpa_cli backend does not support JoinGroup")
}

func firstP2pInterface(listing string) string {
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "p2p-") {
			return line
		}
	}
	return ""
}

var _ Backend = (*WpaCliBackend)(nil)
