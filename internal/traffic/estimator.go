// Package traffic maintains a best-effort per-remote-IP traffic table
// from the TCP connection table and aggregate interface counters.
//
// Per-IP byte attribution needs packet capture, which this package does
// not do. When counters are available the delta between ticks is split
// evenly over the active remote IPs and tagged Estimated; the split does
// not reflect how traffic was really distributed.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/platform"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/util"
)

// ErrNoCounterSource is wrapped when every counter source failed.
var ErrNoCounterSource = errors.New("no interface counter source available")

// DataAccessError means the connection table could not be read, so no
// record can be trusted.
type DataAccessError struct {
	Err                       error
	RequiresElevatedPrivilege bool
}

func (e *DataAccessError) Error() string {
	if e.RequiresElevatedPrivilege {
		return fmt.Sprintf("traffic data unavailable (elevated privilege required): %v", e.Err)
	}
	return fmt.Sprintf("traffic data unavailable: %v", e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

type baseline struct {
	source   string
	counters platform.Counters
	at       time.Time
}

// Estimator owns the traffic table and the sampling loop.
type Estimator struct {
	cfg      util.TrafficConfig
	runner   runner.Runner
	probe    platform.Probe
	sources  []CounterSource
	elevated func() bool
	now      func() time.Time

	tickMu sync.Mutex
	prev   *baseline

	mu      sync.RWMutex
	records map[string]*model.TrafficRecord
	status  model.TrafficStatus

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an estimator reading the host through r and p.
func New(cfg util.TrafficConfig, r runner.Runner, p platform.Probe) *Estimator {
	return &Estimator{
		cfg:      cfg,
		runner:   r,
		probe:    p,
		sources:  DefaultSources(r, p, cfg.CommandTimeout),
		elevated: runner.IsElevated,
		now:      time.Now,
		records:  make(map[string]*model.TrafficRecord),
	}
}

// Start launches the sampling loop. Calling Start while running is a no-op.
func (e *Estimator) Start(ctx context.Context) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.loopActive() {
		return
	}
	if e.cancel != nil {
		// The parent context ended the previous loop.
		e.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)

	util.Info("Traffic monitoring started (interval %v)", e.cfg.Interval)
}

// Stop ends the sampling loop and waits for it to exit.
func (e *Estimator) Stop() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.cancel == nil {
		return
	}

	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil

	util.Info("Traffic monitoring stopped")
}

// Running reports whether the sampling loop is active.
func (e *Estimator) Running() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	return e.loopActive()
}

// loopActive must be called with loopMu held.
func (e *Estimator) loopActive() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// loop ticks immediately and then on every interval. time.Ticker drops
// ticks while one is still running, so ticks never overlap.
func (e *Estimator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	var lastErr string
	for {
		err := e.Tick(ctx)
		switch {
		case err != nil && err.Error() != lastErr:
			util.Warn("Traffic tick failed: %v", err)
			lastErr = err.Error()
		case err == nil:
			lastErr = ""
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick takes one sample and updates the table. It returns a
// *DataAccessError when the connection table is unreadable.
func (e *Estimator) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.now()
	counters, source, counterErr := e.readCounters(ctx)

	out, err := e.runner.Run(ctx, e.probe.ConnectionCommand(), e.cfg.CommandTimeout)
	if err != nil {
		dae := &DataAccessError{
			Err:                       err,
			RequiresElevatedPrivilege: platform.IsPermissionDenied(err) && !e.elevated(),
		}
		e.prev = nil
		e.markUnavailable(now, dae)
		return dae
	}

	active := activeRemotes(e.probe.ParseConnections(out))

	quality := model.QualityConnectionOnly
	var rxShare, txShare, rxRate, txRate float64
	if counterErr == nil {
		if e.prev != nil && e.prev.source == source && now.After(e.prev.at) && len(active) > 0 {
			elapsed := now.Sub(e.prev.at).Seconds()
			n := float64(len(active))
			rxShare = float64(delta(counters.RxBytes, e.prev.counters.RxBytes)) / n
			txShare = float64(delta(counters.TxBytes, e.prev.counters.TxBytes)) / n
			rxRate = rxShare / elapsed
			txRate = txShare / elapsed
			quality = model.QualityEstimated
		} else if e.prev != nil && e.prev.source == source {
			quality = model.QualityEstimated
		}
		e.prev = &baseline{source: source, counters: counters, at: now}
	} else {
		e.prev = nil
	}

	nowMs := now.UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	for ip, conn := range active {
		rec, ok := e.records[ip]
		if !ok {
			rec = &model.TrafficRecord{IP: ip}
			e.records[ip] = rec
		}
		rec.LastSeenEpochMs = nowMs
		rec.Process = conn.Process
		rec.PID = conn.PID
		rec.DataQuality = quality
		rec.DownloadSpeedBps = rxRate
		rec.UploadSpeedBps = txRate
		rec.TotalDownloadBytes += uint64(rxShare)
		rec.TotalUploadBytes += uint64(txShare)
	}

	for ip, rec := range e.records {
		if _, ok := active[ip]; ok {
			continue
		}
		rec.DownloadSpeedBps = 0
		rec.UploadSpeedBps = 0
		if quality == model.QualityConnectionOnly || rec.DataQuality == model.QualityUnavailable {
			rec.DataQuality = model.QualityConnectionOnly
		}
	}

	e.evictLocked(nowMs)

	e.status.LastTick = now
	e.status.Quality = quality
	e.status.CounterSource = source
	e.status.Error = ""
	e.status.RequiresElevatedPrivilege = false
	if counterErr != nil {
		e.status.Error = counterErr.Error()
		e.status.RequiresElevatedPrivilege = platform.IsPermissionDenied(counterErr) && !e.elevated()
	}
	return nil
}

// readCounters returns the first counter source that answers.
func (e *Estimator) readCounters(ctx context.Context) (platform.Counters, string, error) {
	var errs []error
	for _, src := range e.sources {
		c, err := src.Read(ctx)
		if err != nil {
			util.Debug("Counter source %s failed: %v", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		return c, src.Name(), nil
	}
	return platform.Counters{}, "", fmt.Errorf("%w: %w", ErrNoCounterSource, errors.Join(errs...))
}

func (e *Estimator) markUnavailable(now time.Time, dae *DataAccessError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.records {
		rec.DownloadSpeedBps = 0
		rec.UploadSpeedBps = 0
		rec.DataQuality = model.QualityUnavailable
	}
	e.evictLocked(now.UnixMilli())

	e.status.LastTick = now
	e.status.Quality = model.QualityUnavailable
	e.status.CounterSource = ""
	e.status.Error = dae.Error()
	e.status.RequiresElevatedPrivilege = dae.RequiresElevatedPrivilege
}

// evictLocked drops idle records not seen within EvictAfter.
func (e *Estimator) evictLocked(nowMs int64) {
	for ip, rec := range e.records {
		if e.expired(rec, nowMs) {
			delete(e.records, ip)
		}
	}
}

func (e *Estimator) expired(rec *model.TrafficRecord, nowMs int64) bool {
	return rec.Idle() && nowMs-rec.LastSeenEpochMs > e.cfg.EvictAfter.Milliseconds()
}

// Seed adds devices that are not yet in the table with zero speed.
func (e *Estimator) Seed(devices []model.Device) {
	nowMs := e.now().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range devices {
		if d.IP == "" {
			continue
		}
		if _, ok := e.records[d.IP]; ok {
			continue
		}
		e.records[d.IP] = &model.TrafficRecord{
			IP:              d.IP,
			LastSeenEpochMs: nowMs,
			DataQuality:     model.QualityConnectionOnly,
		}
	}
}

// Data returns a copy of the table keyed by remote IP. Records due for
// eviction are left out even when no tick has run since they expired.
func (e *Estimator) Data() map[string]model.TrafficRecord {
	nowMs := e.now().UnixMilli()

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]model.TrafficRecord, len(e.records))
	for ip, rec := range e.records {
		if e.expired(rec, nowMs) {
			continue
		}
		out[ip] = *rec
	}
	return out
}

// Records returns the table ordered by download speed, then IP.
func (e *Estimator) Records() []model.TrafficRecord {
	data := e.Data()
	out := make([]model.TrafficRecord, 0, len(data))
	for _, rec := range data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DownloadSpeedBps != out[j].DownloadSpeedBps {
			return out[i].DownloadSpeedBps > out[j].DownloadSpeedBps
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// Status describes the most recent tick.
func (e *Estimator) Status() model.TrafficStatus {
	e.mu.RLock()
	s := e.status
	e.mu.RUnlock()

	s.Running = e.Running()
	return s
}

// activeRemotes keys connections by remote IP, dropping loopback and
// unspecified peers. The first connection per IP supplies the owner.
func activeRemotes(conns []platform.Connection) map[string]platform.Connection {
	out := make(map[string]platform.Connection)
	for _, c := range conns {
		ip := net.ParseIP(c.RemoteIP)
		if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		if existing, ok := out[c.RemoteIP]; ok && existing.Process != "" {
			continue
		}
		out[c.RemoteIP] = c
	}
	return out
}

// delta tolerates counter resets by treating a decrease as zero.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
