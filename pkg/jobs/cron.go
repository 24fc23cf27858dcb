// Package jobs schedules the maintenance jobs with cron expressions.
package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"

	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/maintenance"
)

// Runner exposes the maintenance job registry.
type Runner interface {
	Jobs() []maintenance.Job
	Job(name string) (maintenance.Job, bool)
}

// ErrorReporter receives job failures.
type ErrorReporter func(job string, err error)

// SentryReporter reports job failures to Sentry.
func SentryReporter(job string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", job)
		sentry.CaptureException(err)
	})
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	schedules map[string]string
	timeout   time.Duration
	reporter  ErrorReporter
	logger    logger.Logger
	entries   map[string]cron.EntryID
}

// Config configures a Scheduler. Schedules maps a job name to a standard
// five-field cron expression; jobs without an expression are not scheduled.
type Config struct {
	Schedules map[string]string
	Location  *time.Location
	// Timeout bounds a single job invocation.
	Timeout  time.Duration
	Reporter ErrorReporter
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg Config, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Reporter == nil {
		cfg.Reporter = SentryReporter
	}

	cl := logger.CronLogger{Logger: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:    runner,
		schedules: cfg.Schedules,
		timeout:   cfg.Timeout,
		reporter:  cfg.Reporter,
		logger:    log,
		entries:   make(map[string]cron.EntryID),
	}
}

// SetupJobs registers every scheduled job with cron.
func (s *Scheduler) SetupJobs() error {
	for _, job := range s.runner.Jobs() {
		spec := s.schedules[job.Name]
		if spec == "" {
			s.logger.Info("job not scheduled", "job", job.Name)
			continue
		}

		name := job.Name
		id, err := s.cron.AddFunc(spec, func() {
			_, _ = s.RunNow(context.Background(), name)
		})
		if err != nil {
			return domain.NewValidationError("invalid schedule for " + name + ": " + err.Error())
		}
		s.entries[name] = id
		s.logger.Info("job scheduled", "job", name, "schedule", spec)
	}
	return nil
}

// RunNow runs the named job once and returns the number of transitions.
// Failures are logged and reported before being returned.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	job, ok := s.runner.Job(name)
	if !ok {
		return 0, domain.NewNotFoundError("job")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("maintenance job failed", "job", name, "error", err)
		s.reporter(name, err)
		return 0, err
	}
	return count, nil
}

// Entry describes a scheduled job.
type Entry struct {
	Job      string    `json:"job"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Entries lists scheduled jobs sorted by name. Next is zero until the
// scheduler is started.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{
			Job:      name,
			Schedule: s.schedules[name],
			Next:     e.Next,
			Prev:     e.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("starting cron scheduler", "jobs", len(s.entries))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping cron scheduler")
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
