package p2p

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/catshare/engine/internal/engineerr"
)

const (
	nmBusName        = "org.freedesktop.NetworkManager"
	nmRootPath       = "/org/freedesktop/NetworkManager"
	nmSettingsPath   = nmRootPath + "/Settings"
	nmIfc            = "org.freedesktop.NetworkManager"
	nmSettingsIfc    = nmIfc + ".Settings"
	nmConnActiveIfc  = nmIfc + ".Connection.Active"
	nmAccessPointAP  = "10.42.0.1"
	activationPoll   = 300 * time.Millisecond
	activationDeadline = 20 * time.Second

	// NMActiveConnectionState values (NetworkManager D-Bus API).
	nmStateActivated = uint32(2)
)

// NMBackend drives NetworkManager over D-Bus to create a shared-mode
// AP connection (sender role) or join one (receiver role).
type NMBackend struct {
	conn *dbus.Conn
}

// NewNMBackend dials the system bus.
func NewNMBackend() (*NMBackend, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("p2p: connecting to system D-Bus: %w", err)
	}
	return &NMBackend{conn: conn}, nil
}

// CreateGroup adds an ephemeral 802-11-wireless/ap connection with
// ipv4.method=shared and waits for it to reach Activated. It does NOT
// wait for IPv4 lease completion, which NM's shared mode hands out
// lazily to joiners; the AP's own address is the well-known
// 10.42.0.1.
func (b *NMBackend) CreateGroup(ctx context.Context, opts CreateGroupOptions) (*GroupHandle, error) {
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant("catshare-hotspot"),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"mode": dbus.MakeVariant("ap"),
			"ssid": dbus.MakeVariant([]byte(opts.SSID)),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(opts.PSK),
		},
		"ipv4": {
			"method": dbus.MakeVariant("shared"),
		},
		"ipv6": {
			"method": dbus.MakeVariant("ignore"),
		},
	}

	devicePath, err := b.devicePathForInterface(opts.WifiInterface)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "locating Wi-Fi device", err)
	}

	nm := b.conn.Object(nmBusName, dbus.ObjectPath(nmRootPath))
	var activeConnPath, connPath dbus.ObjectPath
	call := nm.CallWithContext(ctx, nmIfc+".AddAndActivateConnection", 0, settings, devicePath, dbus.ObjectPath("/"))
	if call.Err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "AddAndActivateConnection", call.Err)
	}
	if err := call.Store(&connPath, &activeConnPath); err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "decoding AddAndActivateConnection result", err)
	}

	if err := b.waitForState(ctx, activeConnPath, nmStateActivated); err != nil {
		return nil, err
	}

	iface, err := b.interfaceOf(activeConnPath)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "reading activated interface", err)
	}
	mac, err := hardwareAddress(iface)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotActivationFailed, "reading hardware address", err)
	}

	return &GroupHandle{
		SSID:      opts.SSID,
		PSK:       opts.PSK,
		MAC:       mac,
		IPv4:      nmAccessPointAP,
		Interface: iface,
		teardown: func() error {
			return b.deactivateAndDelete(activeConnPath, connPath)
		},
	}, nil
}

// JoinGroup adds and activates a client Wi-Fi connection to ssid/psk
// and waits for both Activated and an IPv4 lease: the receiver needs a
// routable source address, unlike the AP side.
func (b *NMBackend) JoinGroup(ctx context.Context, ssid, psk, peerMAC string) (*JoinHandle, error) {
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":   dbus.MakeVariant("catshare-join-" + ssid),
			"type": dbus.MakeVariant("802-11-wireless"),
		},
		"802-11-wireless": {
			"mode": dbus.MakeVariant("infrastructure"),
			"ssid": dbus.MakeVariant([]byte(ssid)),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(psk),
		},
		"ipv4": {
			"method": dbus.MakeVariant("auto"),
		},
	}

	devicePath, err := b.devicePathForInterface("")
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotJoinFailed, "locating Wi-Fi device", err)
	}

	nm := b.conn.Object(nmBusName, dbus.ObjectPath(nmRootPath))
	var activeConnPath, connPath dbus.ObjectPath
	call := nm.CallWithContext(ctx, nmIfc+".AddAndActivateConnection", 0, settings, devicePath, dbus.ObjectPath("/"))
	if call.Err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotJoinFailed, "AddAndActivateConnection", call.Err)
	}
	if err := call.Store(&connPath, &activeConnPath); err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotJoinFailed, "decoding AddAndActivateConnection result", err)
	}

	if err := b.waitForState(ctx, activeConnPath, nmStateActivated); err != nil {
		return nil, err
	}
	if err := b.waitForIPv4Lease(ctx, activeConnPath); err != nil {
		return nil, engineerr.Wrap(engineerr.IPLeaseTimeout, "waiting for IPv4 lease", err)
	}

	iface, err := b.interfaceOf(activeConnPath)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.HotspotJoinFailed, "reading activated interface", err)
	}
	if peerMAC != "" {
		if bssid, err := b.associatedBSSID(activeConnPath); err == nil && bssid != "" {
			if !strings.EqualFold(bssid, peerMAC) {
				// Tolerant: a mismatch is not acted on and the join
				// proceeds either way.
			}
		}
	}
	ip4, err := b.ipv4Address(activeConnPath)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IPLeaseTimeout, "reading leased IPv4 address", err)
	}

	return &JoinHandle{
		IPv4:      ip4,
		Interface: iface,
		teardown: func() error {
			return b.deactivateAndDelete(activeConnPath, connPath)
		},
	}, nil
}

func (b *NMBackend) waitForState(ctx context.Context, activeConnPath dbus.ObjectPath, want uint32) error {
	deadline := time.Now().Add(activationDeadline)
	for {
		state, err := b.propertyUint32(activeConnPath, nmConnActiveIfc, "State")
		if err == nil && state == want {
			return nil
		}
		if time.Now().After(deadline) {
			return engineerr.New(engineerr.HotspotActivationFailed, "timed out waiting for connection to activate")
		}
		select {
		case <-ctx.Done():
			return engineerr.Wrap(engineerr.UserCancelled, "waiting for activation", ctx.Err())
		case <-time.After(activationPoll):
		}
	}
}

func (b *NMBackend) waitForIPv4Lease(ctx context.Context, activeConnPath dbus.ObjectPath) error {
	deadline := time.Now().Add(activationDeadline)
	for {
		if ip, err := b.ipv4Address(activeConnPath); err == nil && ip != "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("p2p: no IPv4 lease after %s", activationDeadline)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(activationPoll):
		}
	}
}

func (b *NMBackend) devicePathForInterface(iface string) (dbus.ObjectPath, error) {
	nm := b.conn.Object(nmBusName, dbus.ObjectPath(nmRootPath))
	if iface != "" {
		call := nm.Call(nmIfc+".GetDeviceByIpIface", 0, iface)
		var path dbus.ObjectPath
		if err := call.Store(&path); err != nil {
			return "", fmt.Errorf("p2p: GetDeviceByIpIface(%s): %w", iface, err)
		}
		return path, nil
	}

	var devices []dbus.ObjectPath
	call := nm.Call(nmIfc+".GetDevices", 0)
	if err := call.Store(&devices); err != nil {
		return "", fmt.Errorf("p2p: GetDevices: %w", err)
	}
	for _, d := range devices {
		devType, err := b.propertyUint32(d, "org.freedesktop.NetworkManager.Device", "DeviceType")
		if err == nil && devType == 2 { // NM_DEVICE_TYPE_WIFI
			return d, nil
		}
	}
	return "", fmt.Errorf("p2p: no Wi-Fi device found")
}

func (b *NMBackend) interfaceOf(activeConnPath dbus.ObjectPath) (string, error) {
	var devices []dbus.ObjectPath
	if err := b.property(activeConnPath, nmConnActiveIfc, "Devices", &devices); err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("p2p: active connection has no devices")
	}
	var iface string
	if err := b.property(devices[0], "org.freedesktop.NetworkManager.Device", "IpInterface", &iface); err != nil {
		return "", err
	}
	return iface, nil
}

func (b *NMBackend) ipv4Address(activeConnPath dbus.ObjectPath) (string, error) {
	var ip4ConfigPath dbus.ObjectPath
	if err := b.property(activeConnPath, nmConnActiveIfc, "Ip4Config", &ip4ConfigPath); err != nil {
		return "", err
	}
	if ip4ConfigPath == "" || ip4ConfigPath == "/" {
		return "", fmt.Errorf("p2p: no IP4Config yet")
	}
	var addressData []map[string]dbus.Variant
	if err := b.property(ip4ConfigPath, "org.freedesktop.NetworkManager.IP4Config", "AddressData", &addressData); err != nil {
		return "", err
	}
	if len(addressData) == 0 {
		return "", fmt.Errorf("p2p: no address data")
	}
	addr, ok := addressData[0]["address"].Value().(string)
	if !ok {
		return "", fmt.Errorf("p2p: malformed address data")
	}
	return addr, nil
}

func (b *NMBackend) associatedBSSID(activeConnPath dbus.ObjectPath) (string, error) {
	var devices []dbus.ObjectPath
	if err := b.property(activeConnPath, nmConnActiveIfc, "Devices", &devices); err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("p2p: no devices")
	}
	var bssid string
	err := b.property(devices[0], "org.freedesktop.NetworkManager.Device.Wireless", "ActiveAccessPoint", &bssid)
	return bssid, err
}

func (b *NMBackend) deactivateAndDelete(activeConnPath, connPath dbus.ObjectPath) error {
	nm := b.conn.Object(nmBusName, dbus.ObjectPath(nmRootPath))
	_ = nm.Call(nmIfc+".DeactivateConnection", 0, activeConnPath)

	conn := b.conn.Object(nmBusName, connPath)
	call := conn.Call("org.freedesktop.NetworkManager.Settings.Connection.Delete", 0)
	if call.Err != nil {
		return fmt.Errorf("p2p: deleting ephemeral connection: %w", call.Err)
	}
	return nil
}

func (b *NMBackend) property(path dbus.ObjectPath, ifc, name string, dest any) error {
	obj := b.conn.Object(nmBusName, path)
	variant, err := obj.GetProperty(ifc + "." + name)
	if err != nil {
		return fmt.Errorf("p2p: reading property %s.%s: %w", ifc, name, err)
	}
	return dbus.Store([]any{variant.Value()}, dest)
}

func (b *NMBackend) propertyUint32(path dbus.ObjectPath, ifc, name string) (uint32, error) {
	var v uint32
	err := b.property(path, ifc, name, &v)
	return v, err
}

var _ Backend = (*NMBackend)(nil)

// hardwareAddress reads the MAC address NM activated from sysfs, per
// spec §4.5 ("reads the hardware MAC from /sys/class/net/<iface>/address").
func hardwareAddress(iface string) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/address", iface))
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(string(data))), nil
}
