package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/scoutdata/medallion/internal/metrics"
)

// Job is a unit of scheduled work. Run must respect ctx cancellation;
// exceeding the configured timeout is treated as a failed run. The
// job's running marker is held until Run returns, so a job that
// ignores its context keeps all of its future ticks skipped.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a closure to the Job interface.
type JobFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewJob wraps fn as a named Job.
func NewJob(name string, fn func(ctx context.Context) error) JobFunc {
	return JobFunc{name: name, fn: fn}
}

func (j JobFunc) Name() string                  { return j.name }
func (j JobFunc) Run(ctx context.Context) error { return j.fn(ctx) }

// State is the per-job scheduler state machine: Idle, Running, then back to {Idle,
// Failed}. Failed is Idle with a recorded error; the job stays eligible
// for its next tick.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

type entry struct {
	job     Job
	cadence time.Duration
	timeout time.Duration

	mu      sync.Mutex
	state   State
	lastRun time.Time
	lastErr error
}

// tryAcquire claims the running marker. Returns false if a run is
// already in flight, in which case the tick is skipped, not queued.
func (e *entry) tryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return false
	}
	e.state = StateRunning
	return true
}

func (e *entry) release(err error, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRun = at
	e.lastErr = err
	if err != nil {
		e.state = StateFailed
		return
	}
	e.state = StateIdle
}

// Status is a point-in-time view of one scheduled job.
type Status struct {
	Job     string        `json:"job"`
	Cadence time.Duration `json:"cadence"`
	State   State         `json:"state"`
	LastRun time.Time     `json:"last_run"`
	LastErr string        `json:"last_error,omitempty"`
}

// Scheduler drives registered jobs on independent cadences, one
// goroutine per job. Jobs never block each other; two overlapping ticks
// of the same job result in exactly one active run.
type Scheduler struct {
	mu      sync.Mutex
	entries []*entry
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job, cadence, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		job:     job,
		cadence: cadence,
		timeout: timeout,
		state:   StateIdle,
	})
}

// Start launches one ticking goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, e := range s.entries {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			ticker := time.NewTicker(e.cadence)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					s.tick(runCtx, e)
				}
			}
		}(e)
	}

	log.Printf("[SCHEDULER] started %d jobs", len(s.entries))
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Statuses reports the current state of every job.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		status := Status{
			Job:     e.job.Name(),
			Cadence: e.cadence,
			State:   e.state,
			LastRun: e.lastRun,
		}
		if e.lastErr != nil {
			status.LastErr = e.lastErr.Error()
		}
		e.mu.Unlock()
		statuses = append(statuses, status)
	}
	return statuses
}

// TickNow fires one tick for the named job, as if its timer had
// elapsed. Returns false if the tick was skipped.
func (s *Scheduler) TickNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var target *entry
	for _, e := range s.entries {
		if e.job.Name() == name {
			target = e
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	return s.tick(ctx, target)
}

func (s *Scheduler) tick(ctx context.Context, e *entry) bool {
	if !e.tryAcquire() {
		metrics.JobSkipped.WithLabelValues(e.job.Name()).Inc()
		log.Printf("[SCHEDULER] %s still running, tick skipped", e.job.Name())
		return false
	}

	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}

	err := e.job.Run(runCtx)
	if cancel != nil {
		cancel()
	}

	duration := time.Since(start)
	e.release(err, start)

	metrics.JobDuration.WithLabelValues(e.job.Name()).Observe(duration.Seconds())
	if err != nil {
		metrics.JobRuns.WithLabelValues(e.job.Name(), "failure").Inc()
		log.Printf("[SCHEDULER] %s failed after %s: %v", e.job.Name(), duration, err)
		return true
	}
	metrics.JobRuns.WithLabelValues(e.job.Name(), "success").Inc()
	log.Printf("[SCHEDULER] %s completed in %s", e.job.Name(), duration)
	return true
}
