// Package discovery builds the list of devices on the local segment:
// a subnet sweep to populate the ARP cache, an ARP table read, reverse
// DNS and an OUI vendor lookup.
package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/storage"
	"github.com/user/lanscope/internal/util"
)

// ErrARPUnavailable is returned by ScanARP when every ARP command failed.
var ErrARPUnavailable = errors.New("no ARP command succeeded")

// Discoverer runs the discovery pipeline and remembers its last result.
type Discoverer struct {
	cfg      util.DiscoveryConfig
	runner   runner.Runner
	platform platform.Probe
	prober   Prober
	dns      *ReverseDNS
	vendors  *VendorLookup
	now      func() time.Time

	mu       sync.RWMutex
	last     []model.Device
	lastScan time.Time
}

// New creates a discoverer. store may be nil to disable the persistent
// vendor cache.
func New(cfg util.DiscoveryConfig, r runner.Runner, p platform.Probe, store *storage.VendorStore) *Discoverer {
	return &Discoverer{
		cfg:      cfg,
		runner:   r,
		platform: p,
		prober:   NewProber(cfg.ProbeMethod, cfg.ProbePort, cfg.ProbeConcurrency, cfg.ProbeTimeout),
		dns:      NewReverseDNS(net.DefaultResolver, cfg.DNSTimeout, cfg.ProbeConcurrency),
		vendors:  NewVendorLookup(cfg.VendorURL, cfg.VendorLimit, cfg.VendorDelay, store),
		now:      time.Now,
	}
}

// Discover runs the full pipeline for the /24 around localIP. Stage
// failures only leave fields empty; an error is returned for an invalid
// localIP or a cancelled context.
func (d *Discoverer) Discover(ctx context.Context, localIP string) ([]model.Device, error) {
	targets, err := SubnetTargets(localIP)
	if err != nil {
		return nil, err
	}

	start := d.now()
	util.Debug("Probing %d addresses around %s", len(targets), localIP)
	d.prober.Sweep(ctx, targets)

	if err := sleep(ctx, d.cfg.SettleDelay); err != nil {
		return nil, err
	}

	devices, err := d.ScanARP(ctx)
	if err != nil {
		util.Warn("ARP scan failed: %v", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d.dns.Resolve(ctx, devices)
	d.vendors.Resolve(ctx, devices)

	seen := d.now()
	for i := range devices {
		devices[i].LastSeen = seen
	}

	d.mu.Lock()
	d.last = devices
	d.lastScan = seen
	d.mu.Unlock()

	util.Info("Discovered %d devices in %v", len(devices), seen.Sub(start).Round(time.Millisecond))
	return devices, nil
}

// ScanARP reads the OS ARP table with the first platform command that succeeds.
func (d *Discoverer) ScanARP(ctx context.Context) ([]model.Device, error) {
	var lastErr error
	for _, cmd := range d.platform.ARPCommands() {
		out, err := d.runner.Run(ctx, cmd, d.cfg.ARPTimeout)
		if err != nil {
			util.Debug("ARP command %s failed: %v", cmd, err)
			lastErr = err
			continue
		}
		return d.platform.ParseARP(out), nil
	}
	if lastErr != nil {
		return nil, errors.Join(ErrARPUnavailable, lastErr)
	}
	return nil, ErrARPUnavailable
}

// LastDevices returns a copy of the most recent scan result.
func (d *Discoverer) LastDevices() []model.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Device, len(d.last))
	copy(out, d.last)
	return out
}

// LastScan returns when the most recent scan finished.
func (d *Discoverer) LastScan() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastScan
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
