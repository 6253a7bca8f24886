package traffic

import (
	"context"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
)

// CounterSource reads aggregate interface byte totals.
type CounterSource interface {
	Name() string
	Read(ctx context.Context) (platform.Counters, error)
}

// psutilSource reads counters in-process through gopsutil.
type psutilSource struct{}

func (psutilSource) Name() string { return "gopsutil" }

func (psutilSource) Read(ctx context.Context) (platform.Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return platform.Counters{}, err
	}

	var total platform.Counters
	found := false
	for _, s := range stats {
		if isLoopbackName(s.Name) {
			continue
		}
		total.RxBytes += s.BytesRecv
		total.TxBytes += s.BytesSent
		found = true
	}
	if !found {
		return platform.Counters{}, platform.ErrNoCounters
	}
	return total, nil
}

func isLoopbackName(name string) bool {
	n := strings.ToLower(name)
	return n == "lo" || strings.HasPrefix(n, "lo0") || strings.Contains(n, "loopback")
}

// commandSource runs the platform counter command.
type commandSource struct {
	runner  runner.Runner
	probe   platform.Probe
	timeout time.Duration
}

func (s commandSource) Name() string { return s.probe.CounterCommand().String() }

func (s commandSource) Read(ctx context.Context) (platform.Counters, error) {
	out, err := s.runner.Run(ctx, s.probe.CounterCommand(), s.timeout)
	if err != nil {
		return platform.Counters{}, err
	}
	return s.probe.ParseCounters(out)
}

// DefaultSources returns the counter sources in the order they are tried.
func DefaultSources(r runner.Runner, p platform.Probe, timeout time.Duration) []CounterSource {
	return []CounterSource{
		psutilSource{},
		commandSource{runner: r, probe: p, timeout: timeout},
	}
}
