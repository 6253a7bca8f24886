package platform

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/runner"
)

var (
	// ? (192.168.1.1) at aa:bb:cc:dd:ee:ff [ether] PERM on eth0
	unixARPRegex = regexp.MustCompile(`\((\d+\.\d+\.\d+\.\d+)\)\s+at\s+([0-9a-fA-F]{1,2}(?::[0-9a-fA-F]{1,2}){5})\b(.*)$`)
	// 192.168.1.1 dev eth0 lladdr aa:bb:cc:dd:ee:ff REACHABLE
	ipNeighRegex = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+)\s+dev\s+\S+\s+lladdr\s+([0-9a-fA-F:]+)\s*(.*)$`)
	// users:(("firefox",pid=2345,fd=87))
	ssProcessRegex = regexp.MustCompile(`\("([^"]+)",pid=(\d+)`)
)

type linuxProbe struct{}

func (linuxProbe) Name() string { return "linux" }

func (linuxProbe) ARPCommands() []runner.Command {
	return []runner.Command{
		runner.Cmd("arp", "-an"),
		runner.Cmd("ip", "neigh", "show"),
	}
}

func (linuxProbe) ParseARP(output string) []model.Device {
	var devices []model.Device

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var ip, mac, rest string
		if m := unixARPRegex.FindStringSubmatch(line); m != nil {
			ip, mac, rest = m[1], m[2], m[3]
		} else if m := ipNeighRegex.FindStringSubmatch(line); m != nil {
			ip, mac, rest = m[1], m[2], m[3]
			if strings.Contains(rest, "FAILED") || strings.Contains(rest, "INCOMPLETE") {
				continue
			}
		} else {
			continue
		}

		typ := model.DeviceDynamic
		if strings.Contains(rest, "PERM") {
			typ = model.DeviceStatic
		}
		if d, ok := newDevice(ip, mac, typ); ok {
			devices = append(devices, d)
		}
	}

	return dedupe(devices)
}

func (linuxProbe) ConnectionCommand() runner.Command {
	return runner.Cmd("ss", "-tnpH", "state", "established")
}

// ParseConnections parses `ss -tnpH state established`. With a state
// filter ss omits the State column, so rows are
// Recv-Q Send-Q Local Peer [Process].
func (linuxProbe) ParseConnections(output string) []Connection {
	var conns []Connection

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())

		var addrs []endpoint
		for _, f := range fields {
			if host, port, ok := splitHostPort(f); ok {
				addrs = append(addrs, endpoint{host, port})
				if len(addrs) == 2 {
					break
				}
			}
		}
		if len(addrs) != 2 {
			continue
		}

		c := Connection{
			LocalIP:    addrs[0].ip,
			LocalPort:  addrs[0].port,
			RemoteIP:   addrs[1].ip,
			RemotePort: addrs[1].port,
		}
		if m := ssProcessRegex.FindStringSubmatch(scanner.Text()); m != nil {
			c.Process = m[1]
			c.PID, _ = strconv.Atoi(m[2])
		}
		conns = append(conns, c)
	}

	return conns
}

func (linuxProbe) CounterCommand() runner.Command {
	return runner.Cmd("cat", "/proc/net/dev")
}

// ParseCounters sums receive and transmit bytes of /proc/net/dev,
// excluding loopback.
func (linuxProbe) ParseCounters(output string) (Counters, error) {
	var total Counters
	found := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 || strings.Contains(line, "|") {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name == "lo" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
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
