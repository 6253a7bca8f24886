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
	//   192.168.1.1           aa-bb-cc-dd-ee-ff     dynamic
	windowsARPRegex = regexp.MustCompile(`^\s*(\d+\.\d+\.\d+\.\d+)\s+([0-9a-fA-F]{2}(?:-[0-9a-fA-F]{2}){5})\s+(\w+)`)
	//   TCP    192.168.1.5:50123    142.250.74.78:443    ESTABLISHED     1234
	netstatRegex = regexp.MustCompile(`^\s*TCP\s+(\S+)\s+(\S+)\s+ESTABLISHED\s+(\d+)`)
)

type windowsProbe struct{}

func (windowsProbe) Name() string { return "windows" }

func (windowsProbe) ARPCommands() []runner.Command {
	return []runner.Command{runner.Cmd("arp", "-a")}
}

func (windowsProbe) ParseARP(output string) []model.Device {
	var devices []model.Device

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := windowsARPRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		typ := strings.ToLower(m[3])
		if typ != model.DeviceDynamic && typ != model.DeviceStatic {
			typ = model.DeviceUnknown
		}
		if d, ok := newDevice(m[1], m[2], typ); ok {
			devices = append(devices, d)
		}
	}

	return dedupe(devices)
}

func (windowsProbe) ConnectionCommand() runner.Command {
	return runner.Cmd("netstat", "-ano", "-p", "tcp")
}

func (windowsProbe) ParseConnections(output string) []Connection {
	var conns []Connection

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := netstatRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		lip, lport, ok1 := splitHostPort(m[1])
		rip, rport, ok2 := splitHostPort(m[2])
		if !ok1 || !ok2 {
			continue
		}
		pid, _ := strconv.Atoi(m[3])
		conns = append(conns, Connection{
			LocalIP:    lip,
			LocalPort:  lport,
			RemoteIP:   rip,
			RemotePort: rport,
			PID:        pid,
		})
	}

	return conns
}

func (windowsProbe) CounterCommand() runner.Command {
	return runner.Cmd("netstat", "-e")
}

// ParseCounters reads the "Bytes  <received>  <sent>" row of `netstat -e`.
func (windowsProbe) ParseCounters(output string) (Counters, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "Bytes" {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[1], 10, 64)
		tx, err2 := strconv.ParseUint(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return Counters{RxBytes: rx, TxBytes: tx}, nil
	}
	return Counters{}, ErrNoCounters
}
