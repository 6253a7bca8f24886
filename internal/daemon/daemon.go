// Package daemon runs lanscope as a background service: the engine, its
// periodic jobs and the local API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/user/lanscope/internal/api"
	"github.com/user/lanscope/internal/engine"
	"github.com/user/lanscope/internal/util"
)

// PIDFileName is the PID file created in the data directory.
const PIDFileName = "lanscope.pid"

// Daemon manages the background service.
type Daemon struct {
	config    *util.Config
	service   *engine.Service
	server    *api.Server
	scheduler *Scheduler
	pidFile   string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startTime time.Time
	mu        sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *util.Config) (*Daemon, error) {
	if err := util.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := engine.New(cfg, engine.Deps{})

	d := &Daemon{
		config:    cfg,
		service:   svc,
		server:    api.NewServer(svc, cfg.API.Port),
		scheduler: NewScheduler(ctx),
		pidFile:   filepath.Join(cfg.DataDir, PIDFileName),
		ctx:       ctx,
		cancel:    cancel,
	}
	return d, nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	d.registerJobs()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("API server failed: %v", err)
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		<-d.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			util.Warn("API shutdown: %v", err)
		}
	}()

	if d.config.Traffic.Autostart {
		d.service.StartTrafficMonitoring(d.ctx)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	util.Info("Daemon started with PID %d", os.Getpid())
	return nil
}

// Wait blocks until a signal or Stop cancels the daemon and its
// goroutines have exited. Callers still call Stop to release resources.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	util.Info("Daemon stopping...")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		util.Info("Daemon stopped gracefully")
	case <-time.After(30 * time.Second):
		util.Warn("Daemon stop timed out")
	}

	d.removePIDFile()
	os.Remove(filepath.Join(d.config.DataDir, StatusFileName))
	return d.service.Close()
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		d.cancel()
	case <-d.ctx.Done():
	}
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFile)
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetStatus returns the daemon status.
func (d *Daemon) GetStatus() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return &DaemonStatus{
		Running:   d.running,
		PID:       os.Getpid(),
		StartTime: d.startTime,
		Uptime:    time.Since(d.startTime),
		APIAddr:   d.server.Addr(),
		Jobs:      d.scheduler.GetJobStatuses(),
	}
}

// DaemonStatus holds the current daemon status.
type DaemonStatus struct {
	Running   bool
	PID       int
	StartTime time.Time
	Uptime    time.Duration
	APIAddr   string
	Jobs      []JobStatus
}

// Service returns the engine the daemon hosts.
func (d *Daemon) Service() *engine.Service {
	return d.service
}
