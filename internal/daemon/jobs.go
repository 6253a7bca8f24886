package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/user/lanscope/internal/engine"
	"github.com/user/lanscope/internal/util"
)

const (
	jobDeviceScan     = "device_scan"
	jobInterfaceWatch = "interface_watch"
	jobStatusFile     = "status_file"

	statusFileInterval     = 15 * time.Second
	interfaceWatchInterval = 10 * time.Second
)

// registerJobs registers the periodic jobs with the scheduler.
func (d *Daemon) registerJobs() {
	d.scheduler.AddJob(&Job{
		Name:     jobDeviceScan,
		Interval: d.config.RescanInterval,
		Run:      d.runDeviceScan,
	})

	watch := &interfaceWatch{
		current: d.service.PrimaryIP,
		onChange: func(from, to string) {
			util.Info("Primary address changed from %q to %q, rescanning", from, to)
			d.scheduler.Trigger(jobDeviceScan)
		},
	}
	d.scheduler.AddJob(&Job{
		Name:         jobInterfaceWatch,
		Interval:     interfaceWatchInterval,
		InitialDelay: interfaceWatchInterval,
		Run:          watch.check,
	})

	d.scheduler.AddJob(&Job{
		Name:         jobStatusFile,
		Interval:     statusFileInterval,
		InitialDelay: time.Second,
		Run:          d.runStatusFile,
	})
}

// runDeviceScan rediscovers the LAN; the engine seeds the traffic table
// with the result.
func (d *Daemon) runDeviceScan(ctx context.Context) error {
	devices, err := d.service.ScanDevices(ctx)
	if errors.Is(err, engine.ErrNoInterface) {
		util.Debug("Device scan skipped: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	util.Info("Device scan complete: %d devices", len(devices))
	return nil
}

func (d *Daemon) runStatusFile(ctx context.Context) error {
	return WriteStatusFile(d.config.DataDir, d.GetStatus(), d.service)
}

// interfaceWatch reports when the scanned address changes, for example
// after joining another network, so the device list is refreshed
// without waiting for the rescan interval.
type interfaceWatch struct {
	current  func() string
	onChange func(from, to string)

	mu   sync.Mutex
	seen bool
	last string
}

func (w *interfaceWatch) check(ctx context.Context) error {
	ip := w.current()

	w.mu.Lock()
	from, seen := w.last, w.seen
	w.last, w.seen = ip, true
	w.mu.Unlock()

	if seen && ip != from && ip != "" {
		w.onChange(from, ip)
	}
	return nil
}
