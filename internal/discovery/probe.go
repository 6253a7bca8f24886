package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/errgroup"
)

// Probe methods accepted by discovery.probe_method.
const (
	MethodTCP  = "tcp"
	MethodICMP = "icmp"
)

// ErrNotIPv4 is returned when a subnet is requested for a non-IPv4 address.
var ErrNotIPv4 = errors.New("not an IPv4 address")

// SubnetTargets returns the 254 host addresses of the /24 containing ip.
func SubnetTargets(ip string) ([]string, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return nil, fmt.Errorf("%q: %w", ip, ErrNotIPv4)
	}

	prefix := fmt.Sprintf("%d.%d.%d.", parsed[0], parsed[1], parsed[2])
	targets := make([]string, 0, 254)
	for host := 1; host <= 254; host++ {
		targets = append(targets, prefix+strconv.Itoa(host))
	}
	return targets, nil
}

// Prober touches every target so the OS resolves its link-layer
// address. Outcomes are discarded; Sweep returns once every attempt has
// finished.
type Prober interface {
	Sweep(ctx context.Context, targets []string)
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPProber attempts a TCP connect to Port on each target.
type TCPProber struct {
	Port        int
	Concurrency int
	Timeout     time.Duration

	dial DialFunc
}

// NewTCPProber creates a TCP connect prober.
func NewTCPProber(port, concurrency int, timeout time.Duration) *TCPProber {
	d := &net.Dialer{}
	return &TCPProber{
		Port:        port,
		Concurrency: concurrency,
		Timeout:     timeout,
		dial:        d.DialContext,
	}
}

// Sweep probes targets with at most Concurrency connects in flight.
func (p *TCPProber) Sweep(ctx context.Context, targets []string) {
	var g errgroup.Group
	g.SetLimit(limit(p.Concurrency))

	port := strconv.Itoa(p.Port)
	for _, ip := range targets {
		if ctx.Err() != nil {
			break
		}
		addr := net.JoinHostPort(ip, port)
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()
			if conn, err := p.dial(attemptCtx, "tcp", addr); err == nil {
				conn.Close()
			}
			return nil
		})
	}
	g.Wait()
}

// ICMPProber sends one unprivileged echo request to each target.
type ICMPProber struct {
	Concurrency int
	Timeout     time.Duration
}

// NewICMPProber creates an ICMP echo prober.
func NewICMPProber(concurrency int, timeout time.Duration) *ICMPProber {
	return &ICMPProber{Concurrency: concurrency, Timeout: timeout}
}

// Sweep pings targets with at most Concurrency echoes in flight.
func (p *ICMPProber) Sweep(ctx context.Context, targets []string) {
	var g errgroup.Group
	g.SetLimit(limit(p.Concurrency))

	for _, ip := range targets {
		if ctx.Err() != nil {
			break
		}
		ip := ip
		g.Go(func() error {
			pinger, err := probing.NewPinger(ip)
			if err != nil {
				return nil
			}
			pinger.Count = 1
			pinger.Timeout = p.Timeout
			pinger.SetPrivileged(false)
			pinger.RunWithContext(ctx)
			return nil
		})
	}
	g.Wait()
}

// NewProber returns the prober for method, defaulting to TCP.
func NewProber(method string, port, concurrency int, timeout time.Duration) Prober {
	if method == MethodICMP {
		return NewICMPProber(concurrency, timeout)
	}
	return NewTCPProber(port, concurrency, timeout)
}

func limit(n int) int {
	if n <= 0 {
		return 30
	}
	return n
}
