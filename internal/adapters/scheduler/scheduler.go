// Package scheduler runs periodic jobs on cron specs as a supervised service.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Error constants.
var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrEmptyJobName   = errors.New("job name is required")
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler holds named cron jobs. A job still running when its next tick
// fires is skipped.
type Scheduler struct {
	logger logger.Logger

	mu      sync.Mutex
	entries []entry
	running bool
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: logger.OrNop().Named("scheduler")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Add registers job under spec, which accepts the standard five-field
// format and descriptors such as "@every 1m". Jobs added while the
// scheduler is serving take effect on the next Serve.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if name == "" {
		return ErrEmptyJobName
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, spec: spec, job: job})
	return nil
}

// Serve runs the jobs until ctx is done, then waits for running jobs.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log := cronLogger{log: s.logger}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	for _, e := range entries {
		e := e
		if _, err := c.AddFunc(e.spec, func() { s.run(ctx, e) }); err != nil {
			return fmt.Errorf("schedule %s: %w", e.name, err)
		}
	}

	c.Start()
	s.logger.Info(ctx, "scheduler started", logger.Int("jobs", len(entries)))
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info(context.Background(), "scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := e.job(ctx)
	ms := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordScheduledJob(e.name, "failed", ms)
		s.logger.Error(ctx, "scheduled job failed",
			logger.String("job", e.name),
			logger.Error(err))
		return
	}
	metrics.RecordScheduledJob(e.name, "success", ms)
}

// String names the service for the supervisor.
func (s *Scheduler) String() string {
	return "scheduler"
}

// cronLogger adapts our logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(context.Background(), msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(context.Background(), msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
