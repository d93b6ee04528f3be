package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sort"
)

// GenerateHardwareID derives a stable fingerprint for the machine this
// Edge runs on, from its MAC addresses and hostname. It is not meant
// to resist a determined attacker with root access — only to catch
// the common case of a subscription blob copied onto different
// hardware.
func GenerateHardwareID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("security: list network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	h := sha256.New()
	h.Write([]byte(hostname))
	for _, mac := range macs {
		h.Write([]byte(mac))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
