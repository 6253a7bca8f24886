// Package engine wires discovery, network info, the speed test and the
// traffic estimator into one long-lived service.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/lanscope/internal/discovery"
	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/netinfo"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/speedtest"
	"github.com/user/lanscope/internal/storage"
	"github.com/user/lanscope/internal/traffic"
	"github.com/user/lanscope/internal/util"
)

// ErrNoInterface is returned by ScanDevices when the host has no usable
// IPv4 interface.
var ErrNoInterface = errors.New("no local IPv4 interface")

// Deps are the host collaborators. Nil fields get the real implementation.
type Deps struct {
	Runner runner.Runner
	Probe  platform.Probe
	// DB holds the vendor cache. When nil the service opens one in the
	// data directory and closes it on Close.
	DB *storage.DB
}

// Service is the engine surface consumed by the CLI, daemon, API and TUI.
type Service struct {
	cfg *util.Config

	db     *storage.DB
	ownsDB bool

	locator    *netinfo.PublicLocator
	discoverer *discovery.Discoverer
	aggregator *netinfo.Aggregator
	speed      *speedtest.Engine
	traffic    *traffic.Estimator
	interfaces func() []model.LocalInterface

	closeOnce sync.Once
}

// New builds a service from cfg.
func New(cfg *util.Config, deps Deps) *Service {
	if deps.Runner == nil {
		deps.Runner = runner.New()
	}
	if deps.Probe == nil {
		deps.Probe = platform.Detect()
	}

	s := &Service{cfg: cfg, db: deps.DB, interfaces: netinfo.LocalInterfaces}
	if s.db == nil {
		db, err := storage.Open(cfg.DataDir)
		if err != nil {
			util.Warn("Vendor cache disabled: %v", err)
		} else {
			s.db = db
			s.ownsDB = true
		}
	}

	var store *storage.VendorStore
	if s.db != nil {
		store = storage.NewVendorStore(s.db)
	}

	s.locator = netinfo.NewPublicLocator(cfg.Public)
	s.discoverer = discovery.New(cfg.Discovery, deps.Runner, deps.Probe, store)
	s.aggregator = netinfo.NewAggregator(s.locator, s.discoverer)
	s.speed = speedtest.New(cfg.SpeedTest)
	s.traffic = traffic.New(cfg.Traffic, deps.Runner, deps.Probe)

	util.Debug("Engine ready (platform %s)", deps.Probe.Name())
	return s
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *util.Config {
	return s.cfg
}

// RunSpeedTest runs one speed test. obs receives phase changes and samples.
func (s *Service) RunSpeedTest(ctx context.Context, obs speedtest.Observer) (*model.SpeedResult, error) {
	return s.speed.Run(ctx, obs)
}

// SpeedTestRunning reports whether a speed test is in progress.
func (s *Service) SpeedTestRunning() bool {
	return s.speed.Running()
}

// LastSpeedResult returns the last completed speed test, or nil.
func (s *Service) LastSpeedResult() *model.SpeedResult {
	return s.speed.LastResult()
}

// NetworkInfo collects a full snapshot and seeds the traffic table with
// the discovered devices.
func (s *Service) NetworkInfo(ctx context.Context) (*model.NetworkInfo, error) {
	info, err := s.aggregator.Collect(ctx)
	if err != nil {
		return nil, err
	}
	s.traffic.Seed(info.Devices)
	return info, nil
}

// ScanDevices runs discovery on the first local interface only.
func (s *Service) ScanDevices(ctx context.Context) ([]model.Device, error) {
	ifaces := s.interfaces()
	if len(ifaces) == 0 {
		return []model.Device{}, ErrNoInterface
	}
	devices, err := s.discoverer.Discover(ctx, ifaces[0].IP)
	if err != nil {
		return nil, fmt.Errorf("device discovery: %w", err)
	}
	if devices == nil {
		devices = []model.Device{}
	}
	s.traffic.Seed(devices)
	return devices, nil
}

// PrimaryIP returns the IPv4 address discovery scans around, or ""
// when the host has no usable interface.
func (s *Service) PrimaryIP() string {
	ifaces := s.interfaces()
	if len(ifaces) == 0 {
		return ""
	}
	return ifaces[0].IP
}

// Devices returns the result of the most recent discovery.
func (s *Service) Devices() []model.Device {
	return s.discoverer.LastDevices()
}

// LastScan returns when the most recent discovery finished.
func (s *Service) LastScan() time.Time {
	return s.discoverer.LastScan()
}

// TrafficData returns the traffic table keyed by remote IP. When the
// last tick could not read the connection table the data is returned
// together with a *traffic.DataAccessError.
func (s *Service) TrafficData() (map[string]model.TrafficRecord, error) {
	data := s.traffic.Data()
	if st := s.traffic.Status(); st.Quality == model.QualityUnavailable {
		return data, &traffic.DataAccessError{
			Err:                       errors.New(st.Error),
			RequiresElevatedPrivilege: st.RequiresElevatedPrivilege,
		}
	}
	return data, nil
}

// TrafficRecords returns the traffic table ordered for display.
func (s *Service) TrafficRecords() []model.TrafficRecord {
	return s.traffic.Records()
}

// TrafficStatus describes the last traffic tick.
func (s *Service) TrafficStatus() model.TrafficStatus {
	return s.traffic.Status()
}

// SampleTraffic runs one estimator tick outside the loop.
func (s *Service) SampleTraffic(ctx context.Context) error {
	return s.traffic.Tick(ctx)
}

// StartTrafficMonitoring starts the background sampling loop.
func (s *Service) StartTrafficMonitoring(ctx context.Context) {
	s.traffic.Seed(s.discoverer.LastDevices())
	s.traffic.Start(ctx)
}

// StopTrafficMonitoring stops the sampling loop.
func (s *Service) StopTrafficMonitoring() {
	s.traffic.Stop()
}

// Close stops monitoring and releases the vendor cache and GeoIP database.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.traffic.Stop()
		err = s.locator.Close()
		if s.ownsDB && s.db != nil {
			err = errors.Join(err, s.db.Close())
		}
	})
	return err
}
