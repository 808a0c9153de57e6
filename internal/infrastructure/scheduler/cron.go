package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

const defaultJobTimeout = 10 * time.Minute

var (
	// ErrUnknownJob is returned by RunNow for an unregistered name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning is returned when a run of the same job is in flight.
	ErrAlreadyRunning = errors.New("job already running")
)

// State is the lifecycle of a registered job. Succeeded and Failed are
// resting states describing the last run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	Name      string    `json:"name"`
	Trigger   string    `json:"trigger"`
	State     string    `json:"state"`
	Runs      uint64    `json:"runs"`
	Skips     uint64    `json:"skips"`
	LastRun   time.Time `json:"lastRun,omitzero"`
	LastError string    `json:"lastError,omitempty"`
	Next      time.Time `json:"next,omitzero"`
}

type entry struct {
	name    string
	trigger gate.Trigger
	job     ports.Job
	id      cron.EntryID
	running *atomic.Bool

	mu      sync.Mutex
	state   State
	runs    uint64
	skips   uint64
	lastRun time.Time
	lastErr error
}

// Options tunes a CronScheduler.
type Options struct {
	Location   *time.Location
	JobTimeout time.Duration
	Metrics    metrics.Recorder
}

// CronScheduler drives jobs with robfig/cron. Each tick runs in its own
// goroutine; a tick that finds the previous run of the same job still in
// flight is skipped.
type CronScheduler struct {
	cron       *cron.Cron
	loc        *time.Location
	jobTimeout time.Duration
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a stopped scheduler in opts.Location.
func NewCronScheduler(opts Options, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:       cron.New(cron.WithLocation(loc), cron.WithLogger(logging.CronLogger(logger))),
		loc:        loc,
		jobTimeout: timeout,
		metrics:    metrics.OrNop(opts.Metrics),
		logger:     logger,
		now:        time.Now,
		entries:    map[string]*entry{},
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// Register schedules job under name, replacing an earlier registration.
func (s *CronScheduler) Register(name string, trigger gate.Trigger, job ports.Job) error {
	if name == "" || job == nil {
		return fmt.Errorf("register job %q: name and job are required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A replacement shares the overlap guard so an in-flight run of the old
	// registration still blocks the new one.
	old, replaced := s.entries[name]
	e := &entry{name: name, trigger: trigger, job: job, running: new(atomic.Bool)}
	if replaced {
		e.running = old.running
	}

	id, err := s.cron.AddFunc(string(trigger), func() {
		_ = s.run(s.baseCtx, e)
	})
	if err != nil {
		return fmt.Errorf("register job %s with %q: %w", name, trigger, err)
	}
	e.id = id
	s.entries[name] = e

	if replaced {
		s.cron.Remove(old.id)
		s.logger.Info("job replaced", "job", name, "trigger", trigger.String())
	} else {
		s.logger.Info("job registered", "job", name, "trigger", trigger.String())
	}
	return nil
}

// Start begins firing triggers. Scheduled runs use a context that only Stop
// cancels, so a shutdown signal lets in-flight sends finish.
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "location", s.loc.String(), "jobs", len(s.Snapshot()))
}

// Stop prevents new ticks and waits for running jobs until ctx expires,
// after which in-flight jobs are cancelled.
func (s *CronScheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("scheduler stop timed out, cancelling running jobs")
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// RunNow executes a registered job immediately through the same guard as a
// scheduled tick and returns its error.
func (s *CronScheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, e)
}

// Snapshot lists registered jobs by name.
func (s *CronScheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := JobStatus{
			Name:    e.name,
			Trigger: e.trigger.String(),
			State:   e.state.String(),
			Runs:    e.runs,
			Skips:   e.skips,
			LastRun: e.lastRun,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		st.Next = s.cron.Entry(e.id).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *CronScheduler) run(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.skips++
		e.mu.Unlock()
		s.metrics.JobSkipped(e.name, "overlap")
		s.logger.Warn("previous run still in progress, skipping tick", "job", e.name)
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, e.name)
	}
	defer e.running.Store(false)

	s.wg.Add(1)
	defer s.wg.Done()

	now := s.now().In(s.loc)
	logger := s.logger.With("job", e.name, "run_id", uuid.NewString())

	e.mu.Lock()
	e.state = StateRunning
	e.lastRun = now
	e.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	jobCtx = logging.WithLogger(jobCtx, logger)

	logger.Debug("job started", "trigger_time", now.Format(time.RFC3339))
	start := time.Now()
	err := invoke(jobCtx, e.job, now)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.runs++
	e.lastErr = err
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateSucceeded
	}
	e.mu.Unlock()

	if err != nil {
		s.metrics.JobRun(e.name, string(domain.OutcomeFailed))
		logger.Error("job failed", "duration", elapsed, "error", err)
		return err
	}
	s.metrics.JobRun(e.name, string(domain.OutcomeSucceeded))
	logger.Debug("job finished", "duration", elapsed)
	return nil
}

// invoke runs job and converts a panic into an error.
func invoke(ctx context.Context, job ports.Job, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx, now)
}
