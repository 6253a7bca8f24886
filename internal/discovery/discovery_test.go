package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/storage"
	"github.com/user/lanscope/internal/util"
)

type scriptRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	fail    map[string]bool
	calls   []string
}

func (r *scriptRunner) Run(ctx context.Context, cmd runner.Command, timeout time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.String())
	if r.fail[cmd.String()] {
		return "", &runner.CommandError{Command: cmd.String(), Message: "not found"}
	}
	return r.outputs[cmd.String()], nil
}

func (r *scriptRunner) RunElevated(ctx context.Context, script string) error { return nil }

var _ runner.Runner = (*scriptRunner)(nil)

type mapResolver struct {
	mu    sync.Mutex
	names map[string]string
	calls int
}

func (r *mapResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if n, ok := r.names[addr]; ok {
		return []string{n}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: addr}
}

type recordProber struct {
	targets []string
}

func (p *recordProber) Sweep(ctx context.Context, targets []string) {
	p.targets = append(p.targets, targets...)
}

func TestSubnetTargets(t *testing.T) {
	t.Parallel()

	targets, err := SubnetTargets("192.168.1.50")
	if err != nil {
		t.Fatalf("SubnetTargets: %v", err)
	}
	if len(targets) != 254 {
		t.Fatalf("len=%d", len(targets))
	}
	if targets[0] != "192.168.1.1" || targets[253] != "192.168.1.254" {
		t.Fatalf("first=%s last=%s", targets[0], targets[253])
	}
	for _, ip := range targets {
		if !strings.HasPrefix(ip, "192.168.1.") {
			t.Fatalf("target outside prefix: %s", ip)
		}
	}

	if _, err := SubnetTargets("fe80::1"); !errors.Is(err, ErrNotIPv4) {
		t.Fatalf("err=%v", err)
	}
}

func TestTCPProber_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var inflight, peak, calls atomic.Int32
	var mu sync.Mutex
	ports := map[string]bool{}

	p := NewTCPProber(80, 30, 50*time.Millisecond)
	p.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		calls.Add(1)
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		_, port, _ := net.SplitHostPort(address)
		mu.Lock()
		ports[port] = true
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)
		inflight.Add(-1)
		return nil, errors.New("refused")
	}

	targets, _ := SubnetTargets("10.0.0.9")
	p.Sweep(context.Background(), targets)

	if calls.Load() != 254 {
		t.Fatalf("calls=%d", calls.Load())
	}
	if peak.Load() > 30 {
		t.Fatalf("peak in flight=%d", peak.Load())
	}
	if len(ports) != 1 || !ports["80"] {
		t.Fatalf("ports=%v", ports)
	}
	if inflight.Load() != 0 {
		t.Fatalf("sweep returned with %d attempts in flight", inflight.Load())
	}
}

func TestNewProber_Method(t *testing.T) {
	t.Parallel()

	if _, ok := NewProber(MethodICMP, 80, 30, time.Second).(*ICMPProber); !ok {
		t.Fatalf("icmp method did not return ICMPProber")
	}
	if _, ok := NewProber("", 80, 30, time.Second).(*TCPProber); !ok {
		t.Fatalf("default method did not return TCPProber")
	}
}

func TestScanARP_FallsBack(t *testing.T) {
	t.Parallel()

	r := &scriptRunner{
		fail: map[string]bool{"arp -an": true},
		outputs: map[string]string{
			"ip neigh show": "192.168.1.1 dev eth0 lladdr AA:BB:CC:00:00:01 REACHABLE\n",
		},
	}
	d := New(util.DefaultConfig().Discovery, r, platform.ForOS("linux"), nil)

	devices, err := d.ScanARP(context.Background())
	if err != nil {
		t.Fatalf("ScanARP: %v", err)
	}
	if len(devices) != 1 || devices[0].MAC != "aa:bb:cc:00:00:01" {
		t.Fatalf("devices=%+v", devices)
	}
	if len(r.calls) != 2 {
		t.Fatalf("calls=%v", r.calls)
	}
}

func TestScanARP_AllFail(t *testing.T) {
	t.Parallel()

	r := &scriptRunner{fail: map[string]bool{"arp -an": true, "ip neigh show": true}}
	d := New(util.DefaultConfig().Discovery, r, platform.ForOS("linux"), nil)

	if _, err := d.ScanARP(context.Background()); !errors.Is(err, ErrARPUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestReverseDNS(t *testing.T) {
	t.Parallel()

	res := &mapResolver{names: map[string]string{"192.168.1.1": "router.lan."}}
	dns := NewReverseDNS(res, time.Second, 4)

	devices := []model.Device{{IP: "192.168.1.1"}, {IP: "192.168.1.2"}}
	dns.Resolve(context.Background(), devices)

	if devices[0].Hostname != "router.lan" {
		t.Fatalf("hostname=%q", devices[0].Hostname)
	}
	if devices[1].Hostname != "" {
		t.Fatalf("failed lookup hostname=%q", devices[1].Hostname)
	}

	dns.Resolve(context.Background(), devices)
	if res.calls != 2 {
		t.Fatalf("resolver calls=%d, want cached answers", res.calls)
	}
}

func newVendorServer(t *testing.T, known map[string]string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		prefix := strings.TrimPrefix(r.URL.Path, "/")
		if name, ok := known[prefix]; ok {
			fmt.Fprint(w, name)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":{"detail":"Not Found"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVendorLookup_CapsPrefixesPerRun(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newVendorServer(t, map[string]string{}, &hits)
	v := NewVendorLookup(srv.URL, 20, time.Millisecond, nil)

	var devices []model.Device
	for i := 0; i < 25; i++ {
		devices = append(devices, model.Device{
			IP:  fmt.Sprintf("192.168.1.%d", i+1),
			MAC: fmt.Sprintf("00:00:%02x:00:00:01", i),
		})
	}
	v.Resolve(context.Background(), devices)

	if hits.Load() != 20 {
		t.Fatalf("requests=%d", hits.Load())
	}
	for _, d := range devices {
		if d.Vendor != "" {
			t.Fatalf("vendor=%q", d.Vendor)
		}
	}
}

func TestVendorLookup_SpacingAndPrivacy(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newVendorServer(t, map[string]string{"00:11:22": "Cisco", "00:11:33": "Intel"}, &hits)
	v := NewVendorLookup(srv.URL, 20, 30*time.Millisecond, nil)

	devices := []model.Device{
		{IP: "192.168.1.1", MAC: "00:11:22:00:00:01"},
		{IP: "192.168.1.2", MAC: "00:11:22:00:00:02"},
		{IP: "192.168.1.3", MAC: "00:11:33:00:00:03"},
		{IP: "192.168.1.4", MAC: "da:a1:19:00:00:04"},
		{IP: "192.168.1.5", MAC: "00:11:44:00:00:05"},
	}

	start := time.Now()
	v.Resolve(context.Background(), devices)
	elapsed := time.Since(start)

	if hits.Load() != 3 {
		t.Fatalf("requests=%d", hits.Load())
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("requests not spaced, elapsed=%v", elapsed)
	}
	if devices[0].Vendor != "Cisco" || devices[1].Vendor != "Cisco" || devices[2].Vendor != "Intel" {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[3].Vendor != "" || devices[4].Vendor != "" {
		t.Fatalf("devices=%+v", devices)
	}
}

func TestVendorLookup_PersistsAnswers(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenFile(filepath.Join(t.TempDir(), "vendors.db"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer db.Close()
	store := storage.NewVendorStore(db)

	var hits atomic.Int32
	srv := newVendorServer(t, map[string]string{"00:11:22": "Cisco"}, &hits)

	devices := []model.Device{{IP: "192.168.1.1", MAC: "00:11:22:00:00:01"}}
	NewVendorLookup(srv.URL, 20, time.Millisecond, store).Resolve(context.Background(), devices)

	rescan := []model.Device{{IP: "192.168.1.9", MAC: "00:11:22:00:00:09"}}
	NewVendorLookup(srv.URL, 20, time.Millisecond, store).Resolve(context.Background(), rescan)

	if hits.Load() != 1 {
		t.Fatalf("requests=%d", hits.Load())
	}
	if rescan[0].Vendor != "Cisco" {
		t.Fatalf("vendor=%q", rescan[0].Vendor)
	}
}

func TestDiscover_Pipeline(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := util.DefaultConfig().Discovery
	cfg.SettleDelay = 0
	cfg.VendorURL = srv.URL
	cfg.VendorDelay = time.Millisecond

	r := &scriptRunner{outputs: map[string]string{
		"arp -an": "? (192.168.1.1) at 00:1b:cc:00:00:01 [ether] on eth0\n" +
			"? (192.168.1.7) at 00:1b:cc:00:00:07 [ether] on eth0\n",
	}}
	prober := &recordProber{}
	d := New(cfg, r, platform.ForOS("linux"), nil)
	d.prober = prober
	d.dns = NewReverseDNS(&mapResolver{names: map[string]string{"192.168.1.1": "gateway."}}, time.Second, 4)

	devices, err := d.Discover(context.Background(), "192.168.1.50")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(prober.targets) != 254 {
		t.Fatalf("probed %d targets", len(prober.targets))
	}
	if len(devices) != 2 {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[0].Hostname != "gateway" || devices[1].Hostname != "" {
		t.Fatalf("devices=%+v", devices)
	}
	if devices[0].Vendor != "" || devices[0].LastSeen.IsZero() {
		t.Fatalf("device=%+v", devices[0])
	}
	if hits.Load() != 1 {
		t.Fatalf("vendor requests=%d", hits.Load())
	}
	if got := d.LastDevices(); len(got) != 2 || got[0].IP != "192.168.1.1" {
		t.Fatalf("LastDevices=%+v", got)
	}
}

func TestDiscover_InvalidIP(t *testing.T) {
	t.Parallel()

	d := New(util.DefaultConfig().Discovery, &scriptRunner{}, platform.ForOS("linux"), nil)
	if _, err := d.Discover(context.Background(), "not-an-ip"); !errors.Is(err, ErrNotIPv4) {
		t.Fatalf("err=%v", err)
	}
}
