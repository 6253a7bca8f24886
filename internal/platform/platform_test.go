package platform

import (
	"errors"
	"testing"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/runner"
)

func TestNormalizeMAC(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"AA:BB:CC:DD:EE:FF": "aa:bb:cc:dd:ee:ff",
		"aa-bb-cc-dd-ee-ff": "aa:bb:cc:dd:ee:ff",
		"0:11:2:a:B:c":      "00:11:02:0a:0b:0c",
	}
	for in, want := range cases {
		got, ok := NormalizeMAC(in)
		if !ok || got != want {
			t.Fatalf("NormalizeMAC(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	for _, bad := range []string{"", "aa:bb:cc", "zz:bb:cc:dd:ee:ff", "aaa:bb:cc:dd:ee:ff"} {
		if _, ok := NormalizeMAC(bad); ok {
			t.Fatalf("NormalizeMAC(%q) should fail", bad)
		}
	}
}

func TestLinuxParseARP(t *testing.T) {
	t.Parallel()

	out := "" +
		"? (192.168.1.1) at AA:BB:CC:DD:EE:01 [ether] on eth0\n" +
		"? (192.168.1.7) at <incomplete> on eth0\n" +
		"? (192.168.1.20) at aa:bb:cc:dd:ee:02 [ether] PERM on eth0\n" +
		"? (192.168.1.255) at ff:ff:ff:ff:ff:ff [ether] on eth0\n" +
		"? (224.0.0.251) at 01:00:5e:00:00:fb [ether] on eth0\n"

	devices := ForOS("linux").ParseARP(out)
	if len(devices) != 2 {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[0].IP != "192.168.1.1" || devices[0].MAC != "aa:bb:cc:dd:ee:01" || devices[0].Type != model.DeviceDynamic {
		t.Fatalf("first=%+v", devices[0])
	}
	if devices[1].Type != model.DeviceStatic {
		t.Fatalf("PERM entry type=%s", devices[1].Type)
	}
}

func TestLinuxParseIPNeigh(t *testing.T) {
	t.Parallel()

	out := "" +
		"192.168.1.1 dev eth0 lladdr aa:bb:cc:dd:ee:01 REACHABLE\n" +
		"192.168.1.9 dev eth0  FAILED\n" +
		"192.168.1.30 dev eth0 lladdr aa:bb:cc:dd:ee:03 PERMANENT\n" +
		"fe80::1 dev eth0 lladdr aa:bb:cc:dd:ee:04 router STALE\n"

	devices := ForOS("linux").ParseARP(out)
	if len(devices) != 2 {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[1].IP != "192.168.1.30" || devices[1].Type != model.DeviceStatic {
		t.Fatalf("second=%+v", devices[1])
	}
}

func TestDarwinParseARP(t *testing.T) {
	t.Parallel()

	out := "" +
		"? (192.168.1.1) at 0:11:22:33:44:55 on en0 ifscope [ethernet]\n" +
		"? (192.168.1.8) at (incomplete) on en0 ifscope [ethernet]\n" +
		"? (192.168.1.12) at a:b:c:d:e:f on en0 ifscope permanent [ethernet]\n" +
		"? (192.168.1.255) at ff:ff:ff:ff:ff:ff on en0 ifscope [ethernet]\n"

	devices := ForOS("darwin").ParseARP(out)
	if len(devices) != 2 {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[0].MAC != "00:11:22:33:44:55" {
		t.Fatalf("mac=%s", devices[0].MAC)
	}
	if devices[1].MAC != "0a:0b:0c:0d:0e:0f" || devices[1].Type != model.DeviceStatic {
		t.Fatalf("second=%+v", devices[1])
	}
}

func TestWindowsParseARP(t *testing.T) {
	t.Parallel()

	out := "" +
		"Interface: 192.168.1.5 --- 0xb\r\n" +
		"  Internet Address      Physical Address      Type\r\n" +
		"  192.168.1.1           AA-BB-CC-DD-EE-01     dynamic\r\n" +
		"  192.168.1.40          aa-bb-cc-dd-ee-05     static\r\n" +
		"  192.168.1.255         ff-ff-ff-ff-ff-ff     static\r\n" +
		"  224.0.0.22            01-00-5e-00-00-16     static\r\n" +
		"  255.255.255.255       ff-ff-ff-ff-ff-ff     static\r\n"

	devices := ForOS("windows").ParseARP(out)
	if len(devices) != 2 {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[0].MAC != "aa:bb:cc:dd:ee:01" || devices[0].Type != model.DeviceDynamic {
		t.Fatalf("first=%+v", devices[0])
	}
	if devices[1].Type != model.DeviceStatic {
		t.Fatalf("second=%+v", devices[1])
	}
}

func TestParseARP_NeverEmitsBroadcastOrUppercase(t *testing.T) {
	t.Parallel()

	outputs := map[string]string{
		"linux":   "? (10.0.0.1) at FF:FF:FF:FF:FF:FF [ether] on eth0\n? (10.0.0.2) at AA:CD:EF:01:23:45 [ether] on eth0\n",
		"darwin":  "? (10.0.0.1) at ff:ff:ff:ff:ff:ff on en0\n? (10.0.0.2) at AA:CD:EF:1:23:45 on en0\n",
		"windows": "  10.0.0.1  FF-FF-FF-FF-FF-FF  static\n  10.0.0.2  AA-CD-EF-01-23-45  dynamic\n",
	}
	for goos, out := range outputs {
		for _, d := range ForOS(goos).ParseARP(out) {
			if d.MAC == "ff:ff:ff:ff:ff:ff" {
				t.Fatalf("%s: broadcast leaked", goos)
			}
			if d.MAC != "aa:cd:ef:01:23:45" {
				t.Fatalf("%s: mac=%s", goos, d.MAC)
			}
		}
	}
}

func TestLinuxParseConnections(t *testing.T) {
	t.Parallel()

	out := "" +
		"0      0      192.168.1.5:43210   142.250.74.78:443   users:((\"firefox\",pid=2345,fd=87))\n" +
		"0      0      [::ffff:192.168.1.5]:22   [::ffff:192.168.1.9]:5555\n" +
		"0      0      [2a00:1450::1]:5000   [2a00:1450::2]:443\n" +
		"garbage line\n"

	conns := ForOS("linux").ParseConnections(out)
	if len(conns) != 3 {
		t.Fatalf("conns=%+v", conns)
	}
	if conns[0].RemoteIP != "142.250.74.78" || conns[0].RemotePort != 443 || conns[0].Process != "firefox" || conns[0].PID != 2345 {
		t.Fatalf("first=%+v", conns[0])
	}
	if conns[1].RemoteIP != "192.168.1.9" {
		t.Fatalf("mapped v4=%+v", conns[1])
	}
	if conns[2].RemoteIP != "2a00:1450::2" {
		t.Fatalf("v6=%+v", conns[2])
	}
}

func TestDarwinParseConnections(t *testing.T) {
	t.Parallel()

	out := "" +
		"COMMAND     PID   USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME\n" +
		"Google\\x20 1234   me   25u  IPv4 0x1234      0t0  TCP 192.168.1.5:50123->142.250.74.78:443 (ESTABLISHED)\n" +
		"ssh        99     me   3u   IPv6 0x99        0t0  TCP [fe80::1]:50000->[fe80::2]:22 (ESTABLISHED)\n"

	conns := ForOS("darwin").ParseConnections(out)
	if len(conns) != 2 {
		t.Fatalf("conns=%+v", conns)
	}
	if conns[0].Process != "Google " || conns[0].PID != 1234 || conns[0].RemoteIP != "142.250.74.78" {
		t.Fatalf("first=%+v", conns[0])
	}
	if conns[1].RemoteIP != "fe80::2" || conns[1].RemotePort != 22 {
		t.Fatalf("second=%+v", conns[1])
	}
}

func TestWindowsParseConnections(t *testing.T) {
	t.Parallel()

	out := "" +
		"Active Connections\r\n\r\n" +
		"  Proto  Local Address          Foreign Address        State           PID\r\n" +
		"  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       900\r\n" +
		"  TCP    192.168.1.5:50123      142.250.74.78:443      ESTABLISHED     4321\r\n"

	conns := ForOS("windows").ParseConnections(out)
	if len(conns) != 1 {
		t.Fatalf("conns=%+v", conns)
	}
	if conns[0].RemoteIP != "142.250.74.78" || conns[0].PID != 4321 {
		t.Fatalf("conn=%+v", conns[0])
	}
}

func TestParseCounters(t *testing.T) {
	t.Parallel()

	linux := "" +
		"Inter-|   Receive                                                |  Transmit\n" +
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n" +
		"    lo:  5000      50    0    0    0     0          0         0     5000      50    0    0    0     0       0          0\n" +
		"  eth0: 1000      10    0    0    0     0          0         0     2000      20    0    0    0     0       0          0\n" +
		" wlan0:300 3 0 0 0 0 0 0 400 4 0 0 0 0 0 0\n"
	c, err := ForOS("linux").ParseCounters(linux)
	if err != nil || c.RxBytes != 1300 || c.TxBytes != 2400 {
		t.Fatalf("linux=%+v err=%v", c, err)
	}

	darwin := "" +
		"Name       Mtu   Network       Address            Ipkts Ierrs     Ibytes    Opkts Oerrs     Obytes  Coll\n" +
		"lo0        16384 <Link#1>                        1000     0     100000     1000     0     100000     0\n" +
		"en0        1500  <Link#6>    aa:bb:cc:dd:ee:ff  1234     0    5000     987     0    7000     0\n" +
		"en0        1500  192.168.1     192.168.1.5       1234     -    5000     987     -    7000     -\n" +
		"en1        1500  <Link#7>                        10     0    100     5     0    50     0\n"
	c, err = ForOS("darwin").ParseCounters(darwin)
	if err != nil || c.RxBytes != 5100 || c.TxBytes != 7050 {
		t.Fatalf("darwin=%+v err=%v", c, err)
	}

	windows := "" +
		"Interface Statistics\r\n\r\n" +
		"                           Received            Sent\r\n\r\n" +
		"Bytes                    1234567890       987654321\r\n" +
		"Unicast packets              100              200\r\n"
	c, err = ForOS("windows").ParseCounters(windows)
	if err != nil || c.RxBytes != 1234567890 || c.TxBytes != 987654321 {
		t.Fatalf("windows=%+v err=%v", c, err)
	}

	if _, err := ForOS("linux").ParseCounters("nothing here"); !errors.Is(err, ErrNoCounters) {
		t.Fatalf("expected ErrNoCounters, got %v", err)
	}
}

func TestIsPermissionDenied(t *testing.T) {
	t.Parallel()

	if !IsPermissionDenied(&runner.CommandError{Command: "netstat -e", Message: "Access is denied."}) {
		t.Fatalf("windows access denied")
	}
	if !IsPermissionDenied(errors.New("open /proc/net/dev: permission denied")) {
		t.Fatalf("linux permission denied")
	}
	if IsPermissionDenied(errors.New("exit status 1")) {
		t.Fatalf("generic failure is not a privilege problem")
	}
	if IsPermissionDenied(nil) {
		t.Fatalf("nil")
	}
}

func TestAddressClassifiers(t *testing.T) {
	t.Parallel()

	if !IsGroupMAC("ff:ff:ff:ff:ff:ff") || !IsGroupMAC("01:00:5e:00:00:fb") || IsGroupMAC("aa:bb:cc:dd:ee:ff") {
		t.Fatalf("IsGroupMAC")
	}
	if !IsLocallyAdministered("da:a1:19:00:00:01") || IsLocallyAdministered("00:11:22:33:44:55") {
		t.Fatalf("IsLocallyAdministered")
	}
}
