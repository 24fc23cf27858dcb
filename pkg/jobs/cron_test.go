package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/maintenance"
)

type fakeRunner struct {
	jobs []maintenance.Job
}

func (r *fakeRunner) Jobs() []maintenance.Job { return r.jobs }

func (r *fakeRunner) Job(name string) (maintenance.Job, bool) {
	for _, j := range r.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return maintenance.Job{}, false
}

type reported struct {
	mu   sync.Mutex
	jobs []string
	errs []error
}

func (r *reported) report(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.errs = append(r.errs, err)
}

func TestRunNow(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("connection refused")
	runner := &fakeRunner{jobs: []maintenance.Job{
		{Name: maintenance.JobProtectionExpiry, Run: func(ctx context.Context) (int, error) {
			calls.Add(1)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return 3, nil
		}},
		{Name: maintenance.JobPseudonymization, Run: func(ctx context.Context) (int, error) {
			return 0, boom
		}},
	}}
	rep := &reported{}
	var buf bytes.Buffer
	s := NewScheduler(runner, Config{Reporter: rep.report}, logger.NewWithWriter(&buf, "info"))

	t.Run("Success", func(t *testing.T) {
		n, err := s.RunNow(context.Background(), maintenance.JobProtectionExpiry)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Failure is reported", func(t *testing.T) {
		n, err := s.RunNow(context.Background(), maintenance.JobPseudonymization)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, n)
		assert.Equal(t, []string{maintenance.JobPseudonymization}, rep.jobs)
		assert.Contains(t, buf.String(), "maintenance job failed")
	})

	t.Run("Unknown job", func(t *testing.T) {
		_, err := s.RunNow(context.Background(), "vacuum")
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestSetupJobs(t *testing.T) {
	noop := func(context.Context) (int, error) { return 0, nil }
	runner := &fakeRunner{jobs: []maintenance.Job{
		{Name: maintenance.JobProgressWarning, Run: noop},
		{Name: maintenance.JobProtectionExpiry, Run: noop},
		{Name: maintenance.JobImportJobArchival, Run: noop},
	}}

	t.Run("Schedules configured jobs only", func(t *testing.T) {
		s := NewScheduler(runner, Config{Schedules: map[string]string{
			maintenance.JobProgressWarning:  "0 * * * *",
			maintenance.JobProtectionExpiry: "15 2 * * *",
		}}, logger.Nop())
		require.NoError(t, s.SetupJobs())

		entries := s.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, maintenance.JobProgressWarning, entries[0].Job)
		assert.Equal(t, "0 * * * *", entries[0].Schedule)
		assert.Equal(t, maintenance.JobProtectionExpiry, entries[1].Job)
	})

	t.Run("Invalid expression", func(t *testing.T) {
		s := NewScheduler(runner, Config{Schedules: map[string]string{
			maintenance.JobProgressWarning: "every tuesday",
		}}, logger.Nop())
		err := s.SetupJobs()
		assert.True(t, domain.IsValidation(err))
	})
}

func TestScheduler_FiresAndStops(t *testing.T) {
	fired := make(chan struct{}, 4)
	runner := &fakeRunner{jobs: []maintenance.Job{
		{Name: maintenance.JobProgressWarning, Run: func(context.Context) (int, error) {
			select {
			case fired <- struct{}{}:
			default:
			}
			return 0, nil
		}},
	}}
	s := NewScheduler(runner, Config{
		Schedules: map[string]string{maintenance.JobProgressWarning: "@every 1s"},
		Location:  time.UTC,
	}, logger.Nop())
	require.NoError(t, s.SetupJobs())

	s.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not fire")
	}
	assert.False(t, s.Entries()[0].Next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	var buf safeBuffer
	done := make(chan struct{})
	var once sync.Once
	runner := &fakeRunner{jobs: []maintenance.Job{
		{Name: maintenance.JobImportJobArchival, Run: func(context.Context) (int, error) {
			defer once.Do(func() { close(done) })
			panic("nil map")
		}},
	}}
	s := NewScheduler(runner, Config{
		Schedules: map[string]string{maintenance.JobImportJobArchival: "@every 1s"},
	}, logger.NewWithWriter(&buf, "info"))
	require.NoError(t, s.SetupJobs())

	s.Start()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not fire")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Contains(t, buf.String(), "cron: panic")
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
