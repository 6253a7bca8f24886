package platform

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/runner"
)

// Google    1234  me  25u  IPv4 0x1  0t0  TCP 192.168.1.5:50123->142.250.74.78:443 (ESTABLISHED)
var lsofRegex = regexp.MustCompile(`^(\S+)\s+(\d+)\s+.*\bTCP\s+(\S+)->(\S+)\s+\(ESTABLISHED\)`)

type darwinProbe struct{}

func (darwinProbe) Name() string { return "darwin" }

func (darwinProbe) ARPCommands() []runner.Command {
	return []runner.Command{runner.Cmd("arp", "-an")}
}

// ParseARP parses BSD `arp -an`, which strips leading zeros from octets:
// ? (192.168.1.1) at 0:11:22:33:44:55 on en0 ifscope [ethernet]
func (darwinProbe) ParseARP(output string) []model.Device {
	var devices []model.Device

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := unixARPRegex.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		typ := model.DeviceDynamic
		if strings.Contains(m[3], "permanent") {
			typ = model.DeviceStatic
		}
		if d, ok := newDevice(m[1], m[2], typ); ok {
			devices = append(devices, d)
		}
	}

	return dedupe(devices)
}

func (darwinProbe) ConnectionCommand() runner.Command {
	return runner.Cmd("lsof", "-nP", "-iTCP", "-sTCP:ESTABLISHED")
}

func (darwinProbe) ParseConnections(output string) []Connection {
	var conns []Connection

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := lsofRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		lip, lport, ok1 := splitHostPort(m[3])
		rip, rport, ok2 := splitHostPort(m[4])
		if !ok1 || !ok2 {
			continue
		}
		pid, _ := strconv.Atoi(m[2])
		conns = append(conns, Connection{
			LocalIP:    lip,
			LocalPort:  lport,
			RemoteIP:   rip,
			RemotePort: rport,
			Process:    strings.ReplaceAll(m[1], `\x20`, " "),
			PID:        pid,
		})
	}

	return conns
}

func (darwinProbe) CounterCommand() runner.Command {
	return runner.Cmd("netstat", "-ib")
}

// ParseCounters sums the <Link#N> rows of `netstat -ib`. The Address
// column is blank for some interfaces, so byte columns are located by
// their offset from the end of the header.
func (darwinProbe) ParseCounters(output string) (Counters, error) {
	var total Counters
	found := false
	ibytesFromEnd, obytesFromEnd := -1, -1

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "Name" {
			for i, h := range fields {
				switch h {
				case "Ibytes":
					ibytesFromEnd = len(fields) - 1 - i
				case "Obytes":
					obytesFromEnd = len(fields) - 1 - i
				}
			}
			continue
		}
		if ibytesFromEnd < 0 || obytesFromEnd < 0 || len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(fields[0], "lo") || !strings.HasPrefix(fields[2], "<Link#") {
			continue
		}
		ii := len(fields) - 1 - ibytesFromEnd
		oi := len(fields) - 1 - obytesFromEnd
		if ii < 0 || oi < 0 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[ii], 10, 64)
		tx, err2 := strconv.ParseUint(fields[oi], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		total.RxBytes += rx
		total.TxBytes += tx
		found = true
	}

	if !found {
		return Counters{}, ErrNoCounters
	}
	return total, nil
}
