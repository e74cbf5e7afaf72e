package orchestrator

import (
	"encoding/base64"
	"net"
	"strings"
)

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// firstHardwareAddress returns the first non-empty, non-loopback MAC
// address on the host, uppercase colon-separated, for DeviceInfo.mac.
// Falls back to all-zero if no interface exposes one (virtual/test
// environments commonly don't).
func firstHardwareAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String())
	}
	return "00:00:00:00:00:00"
}
