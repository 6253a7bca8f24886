// Package speedtest measures latency and throughput against an HTTP
// speed test endpoint in three sequential stages.
package speedtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is active.
	ErrAlreadyRunning = errors.New("speed test already running")
	// ErrPingFailed means no ping attempt succeeded.
	ErrPingFailed = errors.New("ping failed")
	// ErrDownloadFailed means no bytes were received.
	ErrDownloadFailed = errors.New("download failed")
	// ErrUploadFailed means no upload request completed.
	ErrUploadFailed = errors.New("upload failed")
)

const readBufferSize = 32 * 1024

// Observer receives phase changes and live throughput samples. It is
// called on the goroutine running the test.
type Observer func(model.SpeedEvent)

// Engine runs speed tests. At most one run is active at a time.
type Engine struct {
	cfg    util.SpeedTestConfig
	client *http.Client
	now    func() time.Time

	running atomic.Bool

	mu   sync.RWMutex
	last *model.SpeedResult
}

// New creates an engine from cfg.
func New(cfg util.SpeedTestConfig) *Engine {
	return &Engine{
		cfg:    cfg,
		client: &http.Client{},
		now:    time.Now,
	}
}

// Running reports whether a test is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the most recent completed result, or nil.
func (e *Engine) LastResult() *model.SpeedResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

// Run executes ping, download and upload in order. A second call while
// a run is active returns ErrAlreadyRunning without side effects.
func (e *Engine) Run(ctx context.Context, obs Observer) (*model.SpeedResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	run := &testRun{engine: e, id: uuid.NewString(), obs: obs}
	result, err := run.execute(ctx)
	if err != nil {
		util.Warn("Speed test %s failed: %v", run.id, err)
		run.emit(model.SpeedEvent{Phase: model.PhaseError})
		return nil, err
	}

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	run.emit(model.SpeedEvent{Phase: model.PhaseDone})
	util.Info("Speed test %s: ping %.1f ms, down %.2f Mbps, up %.2f Mbps",
		run.id, result.PingMs, result.DownloadMbps, result.UploadMbps)
	return result, nil
}

type testRun struct {
	engine *Engine
	id     string
	obs    Observer
}

func (r *testRun) emit(ev model.SpeedEvent) {
	if r.obs == nil {
		return
	}
	ev.RunID = r.id
	r.obs(ev)
}

func (r *testRun) execute(ctx context.Context) (*model.SpeedResult, error) {
	r.emit(model.SpeedEvent{Phase: model.PhasePing})
	ping, err := r.ping(ctx)
	if err != nil {
		return nil, err
	}

	r.emit(model.SpeedEvent{Phase: model.PhaseDownload})
	down, err := r.download(ctx)
	if err != nil {
		return nil, err
	}

	r.emit(model.SpeedEvent{Phase: model.PhaseUpload})
	up, err := r.upload(ctx)
	if err != nil {
		return nil, err
	}

	return &model.SpeedResult{
		RunID:        r.id,
		PingMs:       ping,
		DownloadMbps: down,
		UploadMbps:   up,
		Timestamp:    r.engine.now(),
	}, nil
}

// ping issues sequential minimal requests and returns the median of the
// successful round trips. Failed attempts are skipped.
func (r *testRun) ping(ctx context.Context) (float64, error) {
	cfg := r.engine.cfg
	var samples []float64
	var lastErr error

	for i := 0; i < cfg.PingAttempts; i++ {
		rtt, err := r.pingOnce(ctx)
		if err != nil {
			lastErr = err
			util.Debug("Ping attempt %d failed: %v", i+1, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		samples = append(samples, rtt)
	}

	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %v", ErrPingFailed, lastErr)
	}
	return round(median(samples), 1), nil
}

func (r *testRun) pingOnce(ctx context.Context) (float64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, r.engine.cfg.PingURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := r.engine.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// download repeats GETs until the stage duration elapses, emitting a
// sample after every chunk. The in-flight request is aborted at the
// deadline.
func (r *testRun) download(ctx context.Context) (float64, error) {
	cfg := r.engine.cfg
	start := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, cfg.DownloadDuration)
	defer cancel()

	buf := make([]byte, readBufferSize)
	var total int64
	var lastErr error

	for stageCtx.Err() == nil {
		n, err := r.downloadOnce(stageCtx, buf, start, &total)
		if err != nil {
			if stageCtx.Err() == nil {
				lastErr = err
			}
			break
		}
		if n == 0 {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	elapsed := clamp(time.Since(start), cfg.DownloadDuration)
	if total == 0 {
		if lastErr == nil {
			lastErr = errors.New("no bytes received")
		}
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, lastErr)
	}
	return round(mbps(total, elapsed), 2), nil
}

func (r *testRun) downloadOnce(ctx context.Context, buf []byte, start time.Time, total *int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.engine.cfg.DownloadURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.engine.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var got int64
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			got += int64(n)
			*total += int64(n)
			r.emit(model.SpeedEvent{
				Phase:  model.PhaseDownload,
				Mbps:   round(mbps(*total, time.Since(start)), 2),
				Sample: true,
			})
		}
		if errors.Is(err, io.EOF) {
			return got, nil
		}
		if err != nil {
			return got, err
		}
	}
}

// upload repeats POSTs of a fixed payload until the stage duration
// elapses. Only requests that complete count; throughput is total bytes
// over the time at which the last request completed.
func (r *testRun) upload(ctx context.Context) (float64, error) {
	cfg := r.engine.cfg
	payload := make([]byte, cfg.UploadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	start := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, cfg.UploadDuration)
	defer cancel()

	var total int64
	var lastDone time.Duration
	var lastErr error

	for stageCtx.Err() == nil {
		if err := r.uploadOnce(stageCtx, payload); err != nil {
			if stageCtx.Err() == nil {
				lastErr = err
			}
			break
		}
		total += int64(len(payload))
		lastDone = time.Since(start)
		r.emit(model.SpeedEvent{
			Phase:  model.PhaseUpload,
			Mbps:   round(mbps(total, lastDone), 2),
			Sample: true,
		})
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		if lastErr == nil {
			lastErr = errors.New("no request completed")
		}
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
	}
	return round(mbps(total, lastDone), 2), nil
}

func (r *testRun) uploadOnce(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.engine.cfg.UploadURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.engine.client.Do(req)
	if err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func mbps(n int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || n <= 0 {
		return 0
	}
	return float64(n) * 8 / secs / 1e6
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp(d, limit time.Duration) time.Duration {
	if d > limit {
		return limit
	}
	return d
}
