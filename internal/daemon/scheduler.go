package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/user/lanscope/internal/util"
)

const (
	// defaultInitialDelay lets the API come up before the first job runs.
	defaultInitialDelay = 2 * time.Second
	// minRetryDelay is the first retry after a failure; each further
	// consecutive failure doubles it, up to the job interval.
	minRetryDelay = 5 * time.Second
	checkInterval = time.Second
)

// Job is a periodic piece of daemon work such as a LAN rescan.
type Job struct {
	Name     string
	Interval time.Duration
	// InitialDelay overrides the delay before the first run.
	InitialDelay time.Duration
	Run          func(ctx context.Context) error

	mu         sync.RWMutex
	lastRun    time.Time
	nextRun    time.Time
	lastError  error
	failures   int // consecutive
	errorCount int
	running    bool
}

// JobStatus is the snapshot of a job reported in the status file.
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	LastRun    time.Time     `json:"last_run"`
	NextRun    time.Time     `json:"next_run"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCount int           `json:"error_count"`
	Running    bool          `json:"running"`
}

// Scheduler runs jobs on their intervals. A job never overlaps itself,
// and Trigger pulls a job's next run forward.
type Scheduler struct {
	ctx  context.Context
	mu   sync.RWMutex
	jobs map[string]*Job
	// order keeps status output in registration order.
	order []string
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewScheduler creates a scheduler bound to ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:  ctx,
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// AddJob registers job. A job with the same name replaces the old one.
func (s *Scheduler) AddJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := job.InitialDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}
	job.nextRun = s.now().Add(delay)
	if _, ok := s.jobs[job.Name]; !ok {
		s.order = append(s.order, job.Name)
	}
	s.jobs[job.Name] = job
}

// Trigger makes the named job due at the next check. It reports false
// for an unknown job or one that is running.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.running {
		return false
	}
	job.nextRun = s.now()
	util.Debug("Job %s triggered", name)
	return true
}

// Run checks jobs every second until the context ends, then waits for
// running jobs to return.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	util.Info("Scheduler started with %d jobs", len(s.snapshot()))

	for {
		select {
		case <-s.ctx.Done():
			util.Info("Scheduler stopping")
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.checkJobs(now)
		}
	}
}

func (s *Scheduler) snapshot() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	return jobs
}

func (s *Scheduler) checkJobs(now time.Time) {
	for _, job := range s.snapshot() {
		job := job
		job.mu.RLock()
		due := !job.running && !now.Before(job.nextRun)
		job.mu.RUnlock()

		if due {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runJob(job)
			}()
		}
	}
}

// runJob executes job unless it is already running.
func (s *Scheduler) runJob(job *Job) bool {
	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		return false
	}
	job.running = true
	job.lastRun = s.now()
	job.mu.Unlock()

	util.Debug("Running job: %s", job.Name)

	ctx, cancel := context.WithTimeout(s.ctx, job.Interval)
	defer cancel()

	err := job.Run(ctx)

	job.mu.Lock()
	defer job.mu.Unlock()
	job.running = false
	if err != nil {
		job.lastError = err
		job.failures++
		job.errorCount++
		delay := retryDelay(job.Interval, job.failures)
		util.Warn("Job %s failed (retry in %v): %v", job.Name, delay, err)
		job.nextRun = s.now().Add(delay)
		return true
	}
	job.lastError = nil
	job.failures = 0
	job.nextRun = s.now().Add(job.Interval)
	util.Debug("Job %s completed", job.Name)
	return true
}

// retryDelay doubles from minRetryDelay per consecutive failure and
// never exceeds interval.
func retryDelay(interval time.Duration, failures int) time.Duration {
	delay := minRetryDelay
	for i := 1; i < failures && delay < interval; i++ {
		delay *= 2
	}
	if delay > interval {
		return interval
	}
	return delay
}

// GetJobStatuses returns the status of all jobs in registration order.
func (s *Scheduler) GetJobStatuses() []JobStatus {
	jobs := s.snapshot()
	statuses := make([]JobStatus, 0, len(jobs))
	for _, job := range jobs {
		job.mu.RLock()
		status := JobStatus{
			Name:       job.Name,
			Interval:   job.Interval,
			LastRun:    job.lastRun,
			NextRun:    job.nextRun,
			ErrorCount: job.errorCount,
			Running:    job.running,
		}
		if job.lastError != nil {
			status.LastError = job.lastError.Error()
		}
		job.mu.RUnlock()
		statuses = append(statuses, status)
	}
	return statuses
}
