package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Job is a recurring evaluation run: which dataset to score, with which
// scorer, on what schedule.
type Job struct {
	ID       string // Unique identifier for the job
	Name     string // Human-readable name (optional)
	CronExpr string // Cron expression (e.g. "0 6 * * *")
	Dataset  string // Dataset to evaluate ("query" or "conversation", or a file path)
	Scorer   string // Scoring strategy name (e.g. "structural")
}

// RunHandler is called when a scheduled job fires. It executes the
// evaluation run the job describes.
type RunHandler func(ctx context.Context, job Job) error

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrEmptyDataset = errors.New("scheduler: dataset must not be empty")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
)

// jobEntry tracks a registered job and its cron entry ID.
type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler manages cron-based evaluation runs. When a job fires, the
// RunHandler executes the evaluation and persists its report.
type Scheduler struct {
	engine  CronEngine
	handler RunHandler
	logger  *slog.Logger
	mu      sync.RWMutex
	jobs    map[string]jobEntry
}

// NewScheduler creates a new Scheduler. Both engine and handler must not be
// nil.
func NewScheduler(engine CronEngine, handler RunHandler, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	if handler == nil {
		panic("scheduler: handler must not be nil")
	}
	s := &Scheduler{
		engine:  engine,
		handler: handler,
		jobs:    make(map[string]jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the Scheduler's logger, falling back to the default slog logger.
func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddJob registers a new scheduled evaluation. Returns an error if the job
// fails validation or if a job with the same ID already exists.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.CronExpr == "" {
		return ErrEmptyCron
	}
	if job.Dataset == "" {
		return ErrEmptyDataset
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	// Capture job for the closure.
	capturedJob := job
	entryID, err := s.engine.AddFunc(job.CronExpr, func() {
		s.log().Info("evaluation run fired",
			"job_id", capturedJob.ID,
			"dataset", capturedJob.Dataset,
			"scorer", capturedJob.Scorer,
		)
		if handlerErr := s.handler(context.Background(), capturedJob); handlerErr != nil {
			s.log().Warn("evaluation run failed",
				"job_id", capturedJob.ID,
				"error", handlerErr,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: failed to register cron job %q: %w", job.ID, err)
	}

	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("job registered",
		"job_id", job.ID,
		"cron_expr", job.CronExpr,
		"dataset", job.Dataset,
	)
	return nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop halts the cron scheduler.
func (s *Scheduler) Stop() {
	s.engine.Stop()
}

// RemoveJob unregisters a scheduled job by ID.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("scheduler: job %q not found", id)
	}

	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("job removed", "job_id", id)
	return nil
}

// ListJobs returns a copy of all registered jobs. The returned slice is
// never nil.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// GetJob returns the job with the given ID, or false if not found.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}
