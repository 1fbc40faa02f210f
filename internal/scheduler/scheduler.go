// Package scheduler runs named jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"fintrack/internal/jobs"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
	ErrNotRunning = errors.New("scheduler is not running")
)

// Job is a named unit of periodic work. Run must be safe to repeat.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Config holds configuration for the scheduler
type Config struct {
	// MaxAttempts bounds how many times one firing is tried (default: 3)
	MaxAttempts int

	// Location is the time zone schedules are evaluated in (default: Local)
	Location *time.Location
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Location:    time.Local,
	}
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastStart time.Time `json:"lastStart,omitzero"`
	LastEnd   time.Time `json:"lastEnd,omitzero"`
	LastError string    `json:"lastError,omitempty"`
	Next      time.Time `json:"next,omitzero"`
}

type entry struct {
	job  Job
	id   cron.EntryID
	busy atomic.Bool

	mu        sync.Mutex
	runs      int
	lastStart time.Time
	lastEnd   time.Time
	lastErr   error
}

// Scheduler wraps a cron instance with retries, skip-if-running and manual
// triggers.
type Scheduler struct {
	cron    *cron.Cron
	config  Config
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(config Config) *Scheduler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		config:  config,
		backoff: jobs.Backoff,
		entries: map[string]*entry{},
	}
}

// Register adds a job. Names are unique and the spec uses the standard
// five-field cron syntax or a descriptor such as "@every 1h".
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.fire(e, "schedule") })
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	e.id = id
	s.entries[job.Name] = e
	s.order = append(s.order, job.Name)
	return nil
}

// Start begins firing jobs. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	slog.InfoContext(ctx, "Scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts new firings, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger runs a job now, outside its schedule. It returns once the run has
// been started.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	running := s.running
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !running {
		return ErrNotRunning
	}
	if e.busy.Load() {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	go s.fire(e, "manual")
	return nil
}

// Status lists registered jobs in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	entries := make([]*entry, len(names))
	for i, n := range names {
		entries[i] = s.entries[n]
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := JobStatus{
			Name:      e.job.Name,
			Spec:      e.job.Spec,
			Running:   e.busy.Load(),
			Runs:      e.runs,
			LastStart: e.lastStart,
			LastEnd:   e.lastEnd,
			Next:      s.cron.Entry(e.id).Next,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// fire runs one firing of e unless a previous one is still in progress.
func (s *Scheduler) fire(e *entry, trigger string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !e.busy.CompareAndSwap(false, true) {
		slog.WarnContext(ctx, "Job still running, skipping", "job", e.job.Name, "trigger", trigger)
		return
	}
	defer e.busy.Store(false)

	start := time.Now()
	e.mu.Lock()
	e.lastStart = start
	e.mu.Unlock()

	slog.InfoContext(ctx, "Job started", "job", e.job.Name, "trigger", trigger)
	err := s.runWithRetry(ctx, e.job)

	e.mu.Lock()
	e.runs++
	e.lastEnd = time.Now()
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "Job failed",
			"job", e.job.Name,
			"duration", time.Since(start),
			"error", err)
		return
	}
	slog.InfoContext(ctx, "Job completed", "job", e.job.Name, "duration", time.Since(start))
}

func (s *Scheduler) runWithRetry(ctx context.Context, job Job) error {
	var err error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if err = runSafe(ctx, job); err == nil {
			return nil
		}
		if attempt+1 == s.config.MaxAttempts {
			break
		}

		delay := s.backoff(attempt)
		slog.WarnContext(ctx, "Job attempt failed, retrying",
			"job", job.Name,
			"attempt", attempt+1,
			"retry_in", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", s.config.MaxAttempts, err)
}

func runSafe(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
