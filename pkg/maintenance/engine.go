// Package maintenance runs the periodic lead lifecycle jobs: progress
// warnings, protection expiry, pseudonymization of expired leads and
// archival of finished import jobs.
//
// Every job selects a bounded batch of candidates and then performs one
// conditional write per candidate. The write restates the full
// precondition, so a candidate that changed after it was read is simply
// skipped. Events are emitted only for writes that affected a row.
package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordanlanch/leadguard/pkg/clock"
	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/metrics"
	"github.com/jordanlanch/leadguard/pkg/models"
)

// Job names, used by the scheduler, the ops API and metrics labels.
const (
	JobProgressWarning   = "progress_warning_check"
	JobProtectionExpiry  = "protection_expiry_check"
	JobPseudonymization  = "dsgvo_pseudonymization"
	JobImportJobArchival = "import_jobs_archival"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// Store is the persistence the engine needs. Every mutating method is a
// conditional write and reports whether it affected a row.
type Store interface {
	GetLead(ctx context.Context, id int) (*models.Lead, error)

	FindProgressWarningCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error)
	MarkProgressWarningSent(ctx context.Context, id int, now time.Time) (bool, error)

	FindExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error)
	ExpireLead(ctx context.Context, id int, observed models.LeadStatus, owner *int, now time.Time, reason string) (bool, error)

	FindPseudonymizationCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error)
	PseudonymizeLead(ctx context.Context, id int, emailHash *string, now time.Time) (bool, error)

	FindArchivableImportJobs(ctx context.Context, now time.Time, limit int) ([]*models.ImportJob, error)
	DeleteImportJob(ctx context.Context, id int, now time.Time) (bool, error)
}

// Engine executes the maintenance jobs.
type Engine struct {
	store       Store
	sink        events.Sink
	clock       clock.Clock
	log         logger.Logger
	metrics     *metrics.Metrics
	batchSize   int
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize bounds the number of candidates one invocation handles.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds how many candidates are written in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMetrics records job outcomes in Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a maintenance engine. A nil sink discards events and a
// nil clock uses wall time.
func NewEngine(store Store, sink events.Sink, clk clock.Clock, log logger.Logger, opts ...Option) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		store:       store,
		sink:        sink,
		clock:       clk,
		log:         log,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Job is a named, parameterless maintenance task.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Jobs returns the registry of maintenance jobs in execution order.
func (e *Engine) Jobs() []Job {
	return []Job{
		{Name: JobProgressWarning, Run: e.CheckProgressWarnings},
		{Name: JobProtectionExpiry, Run: e.CheckProtectionExpiry},
		{Name: JobPseudonymization, Run: e.PseudonymizeExpiredLeads},
		{Name: JobImportJobArchival, Run: e.ArchiveImportJobs},
	}
}

// Job looks up a job by name.
func (e *Engine) Job(name string) (Job, bool) {
	for _, j := range e.Jobs() {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

type outcome int

const (
	won outcome = iota
	lost
	failed
)

// tally counts per-candidate outcomes of one run.
type tally struct {
	candidates int
	won        atomic.Int64
	lost       atomic.Int64
	failed     atomic.Int64
}

// forEach applies fn to candidates 0..n-1 with bounded parallelism. The
// writes run detached from ctx cancellation so a started batch completes.
func (e *Engine) forEach(ctx context.Context, t *tally, n int, fn func(ctx context.Context, i int) outcome) {
	t.candidates = n
	wctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			switch fn(wctx, i) {
			case won:
				t.won.Add(1)
			case lost:
				t.lost.Add(1)
			default:
				t.failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// run wraps one job invocation with logging and metrics.
func (e *Engine) run(ctx context.Context, job string, body func(ctx context.Context, now time.Time, t *tally) error) (int, error) {
	start := time.Now()
	now := e.clock.Now()
	log := e.log.With("job", job)

	var t tally
	err := body(ctx, now, &t)
	count := int(t.won.Load())
	duration := time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordJobRun(metrics.JobRun{
			Job:         job,
			Candidates:  t.candidates,
			Transitions: count,
			LostRaces:   int(t.lost.Load()),
			Failures:    int(t.failed.Load()),
			Duration:    duration,
			Err:         err,
		})
	}

	if err != nil {
		log.Error("maintenance job failed", "error", err, "duration_ms", duration.Milliseconds())
		return 0, err
	}

	log.Info("maintenance job finished",
		"processed", t.candidates,
		"actions", count,
		"lost_races", t.lost.Load(),
		"failures", t.failed.Load(),
		"duration_ms", duration.Milliseconds(),
	)
	return count, nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.log.Warn("failed to publish event", "event", ev.EventName(), "error", err)
	}
}
