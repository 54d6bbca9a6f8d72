// Package scheduler invokes fixed-rate actions on their interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/pkg/schema"
)

// Job is one action scheduled at one fixed rate.
type Job struct {
	ID       string
	Interval time.Duration
	endpoint *dispatch.Endpoint
	entry    cron.EntryID
}

// Action returns the scheduled action's name.
func (j *Job) Action() string { return j.endpoint.Action().Name }

// Scheduler runs every fixed-rate trigger of a registry. A job whose previous
// run is still in flight is skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []*Job
	token  string
	logger *slog.Logger

	lifecycle sync.Mutex // serializes Start and Stop
	cancel    context.CancelFunc

	mu  sync.Mutex // guards ctx only; held briefly by running jobs
	ctx context.Context

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithToken authenticates scheduled invocations with a bearer token.
func WithToken(token string) Option {
	return func(s *Scheduler) { s.token = token }
}

// NewScheduler creates a job per fixed-rate trigger in reg.
func NewScheduler(reg *actions.Registry, chain *parser.Chain, invoker *dispatch.Invoker, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{logger: logger})),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, meta := range reg.List() {
		for _, t := range meta.Triggers {
			ft, ok := t.(actions.FixedRateTrigger)
			if !ok {
				continue
			}
			ep, err := dispatch.NewEndpoint(chain, invoker, meta, ft)
			if err != nil {
				return nil, err
			}
			job := &Job{
				ID:       fmt.Sprintf("%s@%s", meta.Name, ft.Interval),
				Interval: ft.Interval,
				endpoint: ep,
			}
			job.entry = s.cron.Schedule(cron.Every(ft.Interval), cron.FuncJob(func() { s.fire(job) }))
			s.jobs = append(s.jobs, job)
		}
	}
	return s, nil
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []*Job {
	return s.jobs
}

// NextRun reports when the job fires next. Zero until the scheduler starts.
func (s *Scheduler) NextRun(job *Job) time.Time {
	return s.cron.Entry(job.entry).Next
}

// Start launches the cron loop. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Lock()
	s.ctx = jobCtx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
// Jobs already fired when Stop is called see a cancelled context.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.cancel = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(job *Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	_, _ = s.RunJob(ctx, job)
}

// RunJob invokes the job's action once. It reports false without running
// when a previous run of the same job is still in flight.
func (s *Scheduler) RunJob(ctx context.Context, job *Job) (bool, error) {
	if !s.tryAcquire(job.ID) {
		s.logger.Warn("scheduled job still running, skipping", slog.String("job_id", job.ID))
		return false, nil
	}
	defer s.releaseJob(job.ID)

	ctx = logging.WithRequestID(ctx, uuid.NewString())
	req := schema.NewRequest("POST", "/"+job.Action(), []byte("{}"))
	if s.token != "" {
		req.SetHeader("Authorization", "Bearer "+s.token)
	}

	log := logging.LogWith(ctx, s.logger).With(slog.String("job_id", job.ID))
	log.Debug("running scheduled job")

	if _, err := job.endpoint.Call(ctx, req); err != nil {
		log.Error("scheduled job execution failed", slog.String("error", err.Error()))
		return true, err
	}
	return true, nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
