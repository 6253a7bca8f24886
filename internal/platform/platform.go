// Package platform isolates the per-OS command lines and text parsers
// used to read the ARP table, the TCP connection table and interface
// byte counters.
package platform

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/runner"
)

// Connection is one established TCP connection.
type Connection struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	Process    string
	PID        int
}

// Counters are aggregate interface byte totals since boot.
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Probe is one OS variant of the platform commands and parsers.
type Probe interface {
	Name() string
	// ARPCommands are tried in order until one succeeds.
	ARPCommands() []runner.Command
	ParseARP(output string) []model.Device
	ConnectionCommand() runner.Command
	ParseConnections(output string) []Connection
	CounterCommand() runner.Command
	ParseCounters(output string) (Counters, error)
}

// ErrNoCounters is returned when counter output held no usable interface.
var ErrNoCounters = errors.New("no interface counters in output")

// Detect returns the probe for the running OS.
func Detect() Probe {
	return ForOS(runtime.GOOS)
}

// ForOS returns the probe for goos. Unknown systems get the Linux probe.
func ForOS(goos string) Probe {
	switch goos {
	case "windows":
		return windowsProbe{}
	case "darwin":
		return darwinProbe{}
	default:
		return linuxProbe{}
	}
}

// NormalizeMAC lowercases mac, unifies the separator to ':' and pads
// every octet to two digits.
func NormalizeMAC(mac string) (string, bool) {
	mac = strings.TrimSpace(mac)
	parts := strings.FieldsFunc(mac, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return "", false
	}
	out := make([]string, 6)
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return "", false
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return "", false
		}
		out[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(out, ":"), true
}

// IsGroupMAC reports broadcast and multicast addresses.
func IsGroupMAC(mac string) bool {
	if len(mac) < 2 {
		return false
	}
	v, err := strconv.ParseUint(mac[:2], 16, 8)
	if err != nil {
		return false
	}
	return v&0x01 == 1
}

// IsLocallyAdministered reports randomised or otherwise locally assigned MACs.
func IsLocallyAdministered(mac string) bool {
	if len(mac) < 2 {
		return false
	}
	v, err := strconv.ParseUint(mac[:2], 16, 8)
	if err != nil {
		return false
	}
	return v&0x02 == 2
}

// newDevice validates and normalizes one ARP entry.
func newDevice(ip, mac, typ string) (model.Device, bool) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil || parsed.IsMulticast() || parsed.IsUnspecified() || parsed.Equal(net.IPv4bcast) {
		return model.Device{}, false
	}
	norm, ok := NormalizeMAC(mac)
	if !ok || norm == "00:00:00:00:00:00" || IsGroupMAC(norm) {
		return model.Device{}, false
	}
	if typ == "" {
		typ = model.DeviceUnknown
	}
	return model.Device{IP: parsed.String(), MAC: norm, Type: typ}, true
}

// dedupe keeps the first entry per IP.
func dedupe(devices []model.Device) []model.Device {
	seen := make(map[string]bool, len(devices))
	out := devices[:0]
	for _, d := range devices {
		if seen[d.IP] {
			continue
		}
		seen[d.IP] = true
		out = append(out, d)
	}
	return out
}

type endpoint struct {
	ip   string
	port int
}

// splitHostPort splits "1.2.3.4:80", "[::1]:80" and "[::ffff:1.2.3.4]:80".
// IPv4-mapped IPv6 addresses come back as IPv4.
func splitHostPort(addr string) (string, int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 || idx == len(addr)-1 {
		return "", 0, false
	}
	host := strings.Trim(addr[:idx], "[]")
	if z := strings.Index(host, "%"); z >= 0 {
		host = host[:z]
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", 0, false
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), port, true
	}
	return ip.String(), port, true
}

// IsPermissionDenied reports whether err looks like the OS refusing access.
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"permission denied",
		"access is denied",
		"requires elevation",
		"not permitted",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
