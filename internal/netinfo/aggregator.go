// Package netinfo composes the public IP, local interfaces, host
// statistics and discovered devices into one snapshot.
package netinfo

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/lanscope/internal/model"
)

// DeviceDiscoverer runs device discovery around a local IPv4 address.
type DeviceDiscoverer interface {
	Discover(ctx context.Context, localIP string) ([]model.Device, error)
}

// Aggregator collects NetworkInfo snapshots.
type Aggregator struct {
	public     func(ctx context.Context) model.PublicInfo
	interfaces func() []model.LocalInterface
	system     func(ctx context.Context) model.SystemInfo
	discoverer DeviceDiscoverer
	now        func() time.Time
}

// NewAggregator creates an aggregator over the host.
func NewAggregator(locator *PublicLocator, d DeviceDiscoverer) *Aggregator {
	return &Aggregator{
		public:     locator.Lookup,
		interfaces: LocalInterfaces,
		system:     CollectSystem,
		discoverer: d,
		now:        time.Now,
	}
}

// Collect runs the three host fetches concurrently, then discovery on
// the first interface. Only a discovery failure is returned as an error.
func (a *Aggregator) Collect(ctx context.Context) (*model.NetworkInfo, error) {
	info := &model.NetworkInfo{}

	var g errgroup.Group
	g.Go(func() error {
		info.Public = a.public(ctx)
		return nil
	})
	g.Go(func() error {
		info.Interfaces = a.interfaces()
		return nil
	})
	g.Go(func() error {
		info.System = a.system(ctx)
		return nil
	})
	g.Wait()

	if info.Interfaces == nil {
		info.Interfaces = []model.LocalInterface{}
	}
	info.Devices = []model.Device{}

	if len(info.Interfaces) > 0 && a.discoverer != nil {
		devices, err := a.discoverer.Discover(ctx, info.Interfaces[0].IP)
		if err != nil {
			return nil, fmt.Errorf("device discovery: %w", err)
		}
		if devices != nil {
			info.Devices = devices
		}
	}

	info.CollectedAt = a.now()
	return info, nil
}
