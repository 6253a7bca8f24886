package traffic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/util"
)

type connRunner struct {
	mu     sync.Mutex
	output string
	err    error
}

func (r *connRunner) Run(ctx context.Context, cmd runner.Command, timeout time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output, r.err
}

func (r *connRunner) RunElevated(ctx context.Context, script string) error { return nil }

func (r *connRunner) set(output string, err error) {
	r.mu.Lock()
	r.output, r.err = output, err
	r.mu.Unlock()
}

type stubSource struct {
	counters platform.Counters
	err      error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Read(ctx context.Context) (platform.Counters, error) {
	return s.counters, s.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

const twoPeers = "" +
	"0 0 192.168.1.5:40000 142.250.74.78:443 users:((\"firefox\",pid=10,fd=3))\n" +
	"0 0 192.168.1.5:40001 142.250.74.78:443 users:((\"firefox\",pid=10,fd=4))\n" +
	"0 0 192.168.1.5:40002 151.101.1.69:443\n" +
	"0 0 127.0.0.1:5000 127.0.0.1:6000\n" +
	"0 0 [::1]:5000 [::1]:6000\n"

func newTestEstimator(r *connRunner, src *stubSource) (*Estimator, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	e := New(util.DefaultConfig().Traffic, r, platform.ForOS("linux"))
	e.sources = []CounterSource{src}
	e.elevated = func() bool { return false }
	e.now = c.now
	return e, c
}

func TestTick_ExcludesLoopback(t *testing.T) {
	t.Parallel()

	e, _ := newTestEstimator(&connRunner{output: twoPeers}, &stubSource{err: errors.New("no counters")})
	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	data := e.Data()
	if len(data) != 2 {
		t.Fatalf("data=%+v", data)
	}
	if _, ok := data["127.0.0.1"]; ok {
		t.Fatalf("loopback peer recorded")
	}
	if rec := data["142.250.74.78"]; rec.Process != "firefox" || rec.PID != 10 {
		t.Fatalf("owner=%+v", rec)
	}
}

func TestTick_ConnectionOnlyWithoutCounters(t *testing.T) {
	t.Parallel()

	r := &connRunner{output: twoPeers}
	e, c := newTestEstimator(r, &stubSource{err: errors.New("permission denied")})
	e.Seed([]model.Device{{IP: "192.168.1.1"}})

	for i := 0; i < 3; i++ {
		if err := e.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		c.advance(3 * time.Second)
	}

	for ip, rec := range e.Data() {
		if rec.DataQuality != model.QualityConnectionOnly {
			t.Fatalf("%s quality=%s", ip, rec.DataQuality)
		}
		if !rec.Idle() || rec.TotalDownloadBytes != 0 {
			t.Fatalf("%s has fabricated numbers: %+v", ip, rec)
		}
	}
	st := e.Status()
	if st.Quality != model.QualityConnectionOnly || st.Error == "" || !st.RequiresElevatedPrivilege {
		t.Fatalf("status=%+v", st)
	}
}

func TestTick_EstimatedSplit(t *testing.T) {
	t.Parallel()

	src := &stubSource{counters: platform.Counters{RxBytes: 1000, TxBytes: 500}}
	e, c := newTestEstimator(&connRunner{output: twoPeers}, src)

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	for ip, rec := range e.Data() {
		if rec.DataQuality != model.QualityConnectionOnly || !rec.Idle() {
			t.Fatalf("baseline tick %s=%+v", ip, rec)
		}
	}

	c.advance(2 * time.Second)
	src.counters = platform.Counters{RxBytes: 9000, TxBytes: 2500}
	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	for ip, rec := range e.Data() {
		if rec.DataQuality != model.QualityEstimated {
			t.Fatalf("%s quality=%s", ip, rec.DataQuality)
		}
		if rec.DownloadSpeedBps != 2000 || rec.UploadSpeedBps != 500 {
			t.Fatalf("%s speeds=%v/%v", ip, rec.DownloadSpeedBps, rec.UploadSpeedBps)
		}
		if rec.TotalDownloadBytes != 4000 || rec.TotalUploadBytes != 1000 {
			t.Fatalf("%s totals=%d/%d", ip, rec.TotalDownloadBytes, rec.TotalUploadBytes)
		}
	}
	if st := e.Status(); st.CounterSource != "stub" || st.Quality != model.QualityEstimated {
		t.Fatalf("status=%+v", st)
	}
}

func TestTick_CounterResetIsZero(t *testing.T) {
	t.Parallel()

	src := &stubSource{counters: platform.Counters{RxBytes: 9000, TxBytes: 9000}}
	e, c := newTestEstimator(&connRunner{output: twoPeers}, src)
	e.Tick(context.Background())

	c.advance(time.Second)
	src.counters = platform.Counters{RxBytes: 10, TxBytes: 10}
	e.Tick(context.Background())

	for ip, rec := range e.Data() {
		if rec.DownloadSpeedBps < 0 || rec.UploadSpeedBps < 0 || !rec.Idle() {
			t.Fatalf("%s=%+v", ip, rec)
		}
	}
}

func TestTick_UnavailableOnConnectionFailure(t *testing.T) {
	t.Parallel()

	r := &connRunner{output: twoPeers}
	src := &stubSource{counters: platform.Counters{RxBytes: 1000}}
	e, c := newTestEstimator(r, src)
	e.Tick(context.Background())
	c.advance(time.Second)
	src.counters = platform.Counters{RxBytes: 5000}
	e.Tick(context.Background())

	r.set("", &runner.CommandError{Command: "ss", Message: "Operation not permitted"})
	c.advance(time.Second)
	err := e.Tick(context.Background())

	var dae *DataAccessError
	if !errors.As(err, &dae) {
		t.Fatalf("err=%v", err)
	}
	if !dae.RequiresElevatedPrivilege {
		t.Fatalf("missing elevation hint: %+v", dae)
	}
	for ip, rec := range e.Data() {
		if rec.DataQuality != model.QualityUnavailable || !rec.Idle() {
			t.Fatalf("%s=%+v", ip, rec)
		}
	}
	if st := e.Status(); st.Quality != model.QualityUnavailable || !st.RequiresElevatedPrivilege {
		t.Fatalf("status=%+v", st)
	}
}

func TestTick_NoHintWhenElevated(t *testing.T) {
	t.Parallel()

	r := &connRunner{err: &runner.CommandError{Command: "ss", Message: "permission denied"}}
	e, _ := newTestEstimator(r, &stubSource{})
	e.elevated = func() bool { return true }

	var dae *DataAccessError
	if err := e.Tick(context.Background()); !errors.As(err, &dae) || dae.RequiresElevatedPrivilege {
		t.Fatalf("err=%v", err)
	}
}

func TestEviction(t *testing.T) {
	t.Parallel()

	r := &connRunner{}
	e, c := newTestEstimator(r, &stubSource{err: errors.New("none")})
	e.Seed([]model.Device{{IP: "192.168.1.1"}, {IP: "192.168.1.2"}})

	c.advance(30 * time.Second)
	e.Seed([]model.Device{{IP: "192.168.1.3"}})
	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(e.Data()) != 3 {
		t.Fatalf("records within threshold evicted: %+v", e.Data())
	}

	c.advance(16 * time.Second)
	data := e.Data()
	if _, ok := data["192.168.1.1"]; ok {
		t.Fatalf("stale record still reported")
	}
	if _, ok := data["192.168.1.3"]; !ok {
		t.Fatalf("fresh record evicted")
	}

	e.Tick(context.Background())
	e.mu.RLock()
	n := len(e.records)
	e.mu.RUnlock()
	if n != 1 {
		t.Fatalf("table size after tick=%d", n)
	}
}

func TestSeed_KeepsExisting(t *testing.T) {
	t.Parallel()

	src := &stubSource{counters: platform.Counters{RxBytes: 100}}
	e, c := newTestEstimator(&connRunner{output: twoPeers}, src)
	e.Tick(context.Background())
	c.advance(time.Second)
	src.counters = platform.Counters{RxBytes: 300}
	e.Tick(context.Background())

	e.Seed([]model.Device{{IP: "142.250.74.78"}, {IP: "192.168.1.20"}})
	data := e.Data()
	if data["142.250.74.78"].DataQuality != model.QualityEstimated {
		t.Fatalf("seed overwrote live record: %+v", data["142.250.74.78"])
	}
	if rec := data["192.168.1.20"]; rec.DataQuality != model.QualityConnectionOnly || !rec.Idle() {
		t.Fatalf("seeded=%+v", rec)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	cfg := util.DefaultConfig().Traffic
	cfg.Interval = 10 * time.Millisecond
	e := New(cfg, &connRunner{output: twoPeers}, platform.ForOS("linux"))
	e.sources = []CounterSource{&stubSource{err: errors.New("none")}}

	e.Start(context.Background())
	e.Start(context.Background())
	if !e.Running() {
		t.Fatalf("not running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(e.Data()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("loop never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()
	e.Stop()
	if e.Running() || e.Status().Running {
		t.Fatalf("still running after Stop")
	}
}

func TestStart_AfterParentCancel(t *testing.T) {
	t.Parallel()

	cfg := util.DefaultConfig().Traffic
	cfg.Interval = 10 * time.Millisecond
	e := New(cfg, &connRunner{output: twoPeers}, platform.ForOS("linux"))
	e.sources = []CounterSource{&stubSource{err: errors.New("none")}}

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for e.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("loop outlived its context")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Start(context.Background())
	if !e.Running() {
		t.Fatalf("restart after parent cancel failed")
	}
	e.Stop()
}

func TestReadCounters_FallsThrough(t *testing.T) {
	t.Parallel()

	e, _ := newTestEstimator(&connRunner{}, &stubSource{})
	e.sources = []CounterSource{
		&stubSource{err: errors.New("first")},
		commandSource{
			runner: &connRunner{output: "  eth0: 10 0 0 0 0 0 0 0 20 0 0 0 0 0 0 0\n"},
			probe:  platform.ForOS("linux"),
		},
	}

	c, source, err := e.readCounters(context.Background())
	if err != nil {
		t.Fatalf("readCounters: %v", err)
	}
	if c.RxBytes != 10 || c.TxBytes != 20 || source != "cat /proc/net/dev" {
		t.Fatalf("counters=%+v source=%s", c, source)
	}

	e.sources = []CounterSource{&stubSource{err: errors.New("a")}}
	if _, _, err := e.readCounters(context.Background()); !errors.Is(err, ErrNoCounterSource) {
		t.Fatalf("err=%v", err)
	}
}
