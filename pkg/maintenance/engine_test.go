package maintenance_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/leadguard/pkg/clock"
	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/leadstore"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/maintenance"
	"github.com/jordanlanch/leadguard/pkg/metrics"
	"github.com/jordanlanch/leadguard/pkg/models"
	"github.com/jordanlanch/leadguard/pkg/testdata"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	store  *leadstore.Store
	sink   *recordingSink
	clock  *clock.Fixed
	engine *maintenance.Engine
}

func setup(t *testing.T, opts ...maintenance.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: leadstore.NewStore(testdata.OpenDB(t).Driver),
		sink:  &recordingSink{},
		clock: clock.NewFixed(t0),
	}
	f.engine = maintenance.NewEngine(f.store, f.sink, f.clock, logger.Nop(), opts...)
	return f
}

func (f *fixture) lead(t *testing.T, registeredAt time.Time, opts ...testdata.LeadOption) *models.Lead {
	t.Helper()
	l, err := f.store.CreateLead(context.Background(), testdata.GenerateLead(registeredAt, opts...), nil)
	require.NoError(t, err)
	return l
}

func (f *fixture) get(t *testing.T, id int) *models.Lead {
	t.Helper()
	l, err := f.store.GetLead(context.Background(), id)
	require.NoError(t, err)
	return l
}

func TestCheckProgressWarnings_Window(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := t0

	due := f.lead(t, now.AddDate(0, -2, 0), testdata.WithActivity(now.AddDate(0, 0, -54)))    // deadline now+6d
	edge := f.lead(t, now.AddDate(0, -2, 0), testdata.WithActivity(now.AddDate(0, 0, -53)))   // deadline now+7d
	notDue := f.lead(t, now.AddDate(0, -2, 0), testdata.WithActivity(now.AddDate(0, 0, -50))) // deadline now+10d
	warned := f.lead(t, now.AddDate(0, -2, 0), testdata.WithActivity(now.AddDate(0, 0, -55)),
		testdata.WithWarningSentAt(now.AddDate(0, 0, -1)))
	noActivity := f.lead(t, now.AddDate(0, -2, 0))

	count, err := f.engine.CheckProgressWarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NotNil(t, f.get(t, due.ID).ProgressWarningSentAt)
	assert.NotNil(t, f.get(t, edge.ID).ProgressWarningSentAt)
	assert.Nil(t, f.get(t, notDue.ID).ProgressWarningSentAt)
	assert.True(t, warned.ProgressWarningSentAt.Equal(*f.get(t, warned.ID).ProgressWarningSentAt), "existing warning untouched")
	assert.Nil(t, f.get(t, noActivity.ID).ProgressWarningSentAt)

	got := f.sink.Events()
	require.Len(t, got, 2)
	warnedIDs := map[int]events.ProgressWarningIssued{}
	for _, e := range got {
		ev, ok := e.(events.ProgressWarningIssued)
		require.True(t, ok)
		warnedIDs[ev.LeadID] = ev
	}
	require.Contains(t, warnedIDs, due.ID)
	assert.Equal(t, *due.OwnerUserID, *warnedIDs[due.ID].AssignedTo)
	assert.True(t, due.ProgressDeadline.Equal(warnedIDs[due.ID].ProgressDeadline))
	assert.Contains(t, warnedIDs, edge.ID)
}

func TestCheckProgressWarnings_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -58)))

	first, err := f.engine.CheckProgressWarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := f.engine.CheckProgressWarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
	assert.Len(t, f.sink.Events(), 1)
}

func TestJobs_ClockStoppedLeadsAreExempt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	unwarned := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -59)),
		testdata.WithClockStopped(t0.AddDate(0, 0, -2), "customer on vacation"))
	graceOver := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -80)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -27)),
		testdata.WithClockStopped(t0.AddDate(0, 0, -20), "contract negotiation"))

	warned, err := f.engine.CheckProgressWarnings(ctx)
	require.NoError(t, err)
	expired, err := f.engine.CheckProtectionExpiry(ctx)
	require.NoError(t, err)

	assert.Zero(t, warned)
	assert.Zero(t, expired)
	assert.Nil(t, f.get(t, unwarned.ID).ProgressWarningSentAt)
	assert.Equal(t, models.StatusActive, f.get(t, graceOver.ID).Status)
	assert.Empty(t, f.sink.Events())
}

func TestCheckProtectionExpiry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	lapsed := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -64)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -11)), testdata.WithOwner(42))
	reminder := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -70)),
		testdata.WithStatus(models.StatusReminder), testdata.WithWarningSentAt(t0.AddDate(0, 0, -10)))
	inGrace := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -62)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -9)))
	converted := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -70)),
		testdata.WithStatus(models.StatusConverted), testdata.WithWarningSentAt(t0.AddDate(0, 0, -20)))

	count, err := f.engine.CheckProtectionExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got := f.get(t, lapsed.ID)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Nil(t, got.OwnerUserID)
	require.NotNil(t, got.ExpiredAt)
	assert.True(t, t0.Equal(*got.ExpiredAt))
	assert.True(t, t0.Equal(got.UpdatedAt))

	assert.Equal(t, models.StatusExpired, f.get(t, reminder.ID).Status, "exactly ten days of grace is enough")
	assert.Equal(t, models.StatusActive, f.get(t, inGrace.ID).Status)
	assert.Equal(t, models.StatusConverted, f.get(t, converted.ID).Status)

	var expiredEvent events.LeadProtectionExpired
	for _, e := range f.sink.Events() {
		if ev, ok := e.(events.LeadProtectionExpired); ok && ev.LeadID == lapsed.ID {
			expiredEvent = ev
		}
	}
	require.NotNil(t, expiredEvent.PreviouslyAssignedTo)
	assert.Equal(t, 42, *expiredEvent.PreviouslyAssignedTo)

	history, err := f.store.ListStatusHistory(ctx, lapsed.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.StatusActive, last.OldStatus)
	assert.Equal(t, models.StatusExpired, last.NewStatus)

	again, err := f.engine.CheckProtectionExpiry(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.sink.Events(), 2)
}

func TestPseudonymizeExpiredLeads(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	recent := f.lead(t, t0.AddDate(-1, 0, 0), testdata.WithExpiredAt(t0.AddDate(0, 0, -50)))
	old := f.lead(t, t0.AddDate(-1, 0, 0), testdata.WithExpiredAt(t0.AddDate(0, 0, -61)))
	active := f.lead(t, t0.AddDate(-1, 0, 0), testdata.WithActivity(t0.AddDate(0, 0, -1)))

	count, err := f.engine.PseudonymizeExpiredLeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got := f.get(t, old.ID)
	require.NotNil(t, got.Email)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), *got.Email)
	assert.Equal(t, *models.HashEmail(old.Email), *got.Email)
	assert.Equal(t, got.Email, got.EmailHash)
	assert.Equal(t, leadstore.AnonymizedMarker, *got.ContactPerson)
	assert.Nil(t, got.Phone)
	assert.Nil(t, got.Street)
	assert.Nil(t, got.PostalCode)
	assert.Nil(t, got.City)
	assert.Nil(t, got.Website)
	assert.Equal(t, old.CompanyName, got.CompanyName)
	assert.Equal(t, old.CountryCode, got.CountryCode)
	assert.True(t, old.UpdatedAt.Equal(got.UpdatedAt), "retention clock is not reset")
	assert.NotNil(t, got.PseudonymizedAt)

	assert.Nil(t, f.get(t, recent.ID).PseudonymizedAt)
	assert.Equal(t, *active.Email, *f.get(t, active.ID).Email)

	assert.Equal(t, []events.Event{events.LeadsPseudonymized{Count: 1}}, f.sink.Events())

	again, err := f.engine.PseudonymizeExpiredLeads(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.sink.Events(), 1, "no event when nothing was pseudonymized")
}

func TestJobs_GDPRDeletedLeadsAreExempt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	lapsed := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -70)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -12)), testdata.WithOwner(5),
		testdata.WithGDPRDeleted(t0.AddDate(0, 0, -1)))
	old := f.lead(t, t0.AddDate(-1, 0, 0), testdata.WithExpiredAt(t0.AddDate(0, 0, -90)),
		testdata.WithGDPRDeleted(t0.AddDate(0, 0, -1)))

	expired, err := f.engine.CheckProtectionExpiry(ctx)
	require.NoError(t, err)
	pseudonymized, err := f.engine.PseudonymizeExpiredLeads(ctx)
	require.NoError(t, err)

	assert.Zero(t, expired)
	assert.Zero(t, pseudonymized)

	got := f.get(t, lapsed.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	require.NotNil(t, got.OwnerUserID)
	assert.Equal(t, 5, *got.OwnerUserID)
	assert.Nil(t, f.get(t, old.ID).PseudonymizedAt)
	assert.Empty(t, f.sink.Events())
}

func TestArchiveImportJobs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var ids []int
	for _, at := range []time.Time{t0.AddDate(0, 0, -9), t0.AddDate(0, 0, -8), t0.AddDate(0, 0, -3)} {
		j, err := f.store.CreateImportJob(ctx, testdata.GenerateImportJob(at, models.ImportRunning))
		require.NoError(t, err)
		_, err = f.store.MarkImportJobFinished(ctx, j.ID, models.ImportCompleted, j.RowsTotal, at)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	count, err := f.engine.ArchiveImportJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []events.Event{events.ImportJobsArchived{Count: 2}}, f.sink.Events())

	_, err = f.store.GetImportJob(ctx, ids[0])
	assert.ErrorIs(t, err, leadstore.ErrNotFound)
	_, err = f.store.GetImportJob(ctx, ids[2])
	assert.NoError(t, err)

	again, err := f.engine.ArchiveImportJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.sink.Events(), 1)
}

func TestLifecycle_EndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	l := f.lead(t, t0, testdata.WithActivity(t0), testdata.WithOwner(7))
	require.True(t, t0.AddDate(0, 0, 60).Equal(*l.ProgressDeadline))

	runAll := func() {
		for _, j := range f.engine.Jobs() {
			_, err := j.Run(ctx)
			require.NoError(t, err, j.Name)
		}
	}

	f.clock.Set(t0.AddDate(0, 0, 52))
	runAll()
	assert.Nil(t, f.get(t, l.ID).ProgressWarningSentAt, "eight days before the deadline is too early")

	f.clock.Set(t0.AddDate(0, 0, 53))
	runAll()
	got := f.get(t, l.ID)
	require.NotNil(t, got.ProgressWarningSentAt)
	assert.Equal(t, models.StatusActive, got.Status)

	f.clock.Set(t0.AddDate(0, 0, 62))
	runAll()
	assert.Equal(t, models.StatusActive, f.get(t, l.ID).Status, "still within grace")

	f.clock.Set(t0.AddDate(0, 0, 70))
	runAll()
	got = f.get(t, l.ID)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Nil(t, got.OwnerUserID)

	f.clock.Set(t0.AddDate(0, 0, 129))
	runAll()
	assert.Nil(t, f.get(t, l.ID).PseudonymizedAt, "retention not yet over")

	f.clock.Set(t0.AddDate(0, 0, 131))
	runAll()
	got = f.get(t, l.ID)
	require.NotNil(t, got.PseudonymizedAt)
	assert.Equal(t, leadstore.AnonymizedMarker, *got.ContactPerson)

	var names []string
	for _, e := range f.sink.Events() {
		names = append(names, e.EventName())
	}
	assert.Equal(t, []string{
		events.NameProgressWarningIssued,
		events.NameLeadProtectionExpired,
		events.NameLeadsPseudonymized,
	}, names)

	history, err := f.store.ListStatusHistory(ctx, l.ID)
	require.NoError(t, err)
	var statuses []models.LeadStatus
	for _, h := range history {
		statuses = append(statuses, h.NewStatus)
	}
	assert.Equal(t, []models.LeadStatus{models.StatusActive, models.StatusExpired}, statuses)
}

func TestConcurrentRunsNeverDoubleFire(t *testing.T) {
	f := setup(t, maintenance.WithConcurrency(3))
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -56)))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.engine.CheckProgressWarnings(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 12, total)
	got := f.sink.Events()
	assert.Len(t, got, 12)
	seen := map[int]bool{}
	for _, e := range got {
		id := e.(events.ProgressWarningIssued).LeadID
		assert.False(t, seen[id], "lead %d warned twice", id)
		seen[id] = true
	}
}

func TestBatchSizeBoundsOneRun(t *testing.T) {
	f := setup(t, maintenance.WithBatchSize(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -57)))
	}

	counts := []int{}
	for i := 0; i < 4; i++ {
		n, err := f.engine.CheckProgressWarnings(ctx)
		require.NoError(t, err)
		counts = append(counts, n)
	}
	assert.Equal(t, []int{2, 2, 1, 0}, counts)
}

func TestSinkFailureDoesNotChangeCount(t *testing.T) {
	f := setup(t)
	f.sink.err = errors.New("broker unavailable")
	f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -58)))

	count, err := f.engine.CheckProgressWarnings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.sink.Events(), 1)
}

func TestCancelledContextStillFinishesBatch(t *testing.T) {
	f := setup(t)
	l := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -75)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -15)))

	store := &cancellingStore{Store: f.store}
	ctx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel
	engine := maintenance.NewEngine(store, f.sink, f.clock, logger.Nop())

	count, err := engine.CheckProtectionExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, models.StatusExpired, f.get(t, l.ID).Status)
}

// cancellingStore cancels the caller's context right after candidates are
// read.
type cancellingStore struct {
	*leadstore.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) FindExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error) {
	leads, err := s.Store.FindExpiryCandidates(ctx, now, limit)
	s.cancel()
	return leads, err
}

func TestExpireLead_Manual(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ready := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -75)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -12)), testdata.WithOwner(3))
	inGrace := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -58)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -3)))
	unwarned := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -10)))
	stopped := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -75)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -12)), testdata.WithClockStopped(t0.AddDate(0, 0, -1), "legal hold"))
	converted := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithStatus(models.StatusConverted))
	erased := f.lead(t, t0.AddDate(0, -3, 0), testdata.WithActivity(t0.AddDate(0, 0, -75)),
		testdata.WithWarningSentAt(t0.AddDate(0, 0, -12)), testdata.WithGDPRDeleted(t0.AddDate(0, 0, -2)))

	require.NoError(t, f.engine.ExpireLead(ctx, ready.ID))
	assert.Equal(t, models.StatusExpired, f.get(t, ready.ID).Status)
	assert.Equal(t, []events.Event{events.LeadProtectionExpired{LeadID: ready.ID, PreviouslyAssignedTo: ready.OwnerUserID}}, f.sink.Events())

	for name, id := range map[string]int{
		"in grace":        inGrace.ID,
		"not warned":      unwarned.ID,
		"clock stopped":   stopped.ID,
		"converted":       converted.ID,
		"gdpr deleted":    erased.ID,
		"already expired": ready.ID,
	} {
		t.Run(name, func(t *testing.T) {
			err := f.engine.ExpireLead(ctx, id)
			require.Error(t, err)
			assert.True(t, domain.IsPrecondition(err), err.Error())
		})
	}

	err := f.engine.ExpireLead(ctx, 9999)
	assert.True(t, domain.IsNotFound(err))
	assert.Len(t, f.sink.Events(), 1)
}

func TestJobs_Registry(t *testing.T) {
	f := setup(t)

	var names []string
	for _, j := range f.engine.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{
		maintenance.JobProgressWarning,
		maintenance.JobProtectionExpiry,
		maintenance.JobPseudonymization,
		maintenance.JobImportJobArchival,
	}, names)

	j, ok := f.engine.Job("dsgvo_pseudonymization")
	require.True(t, ok)
	n, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok = f.engine.Job("reindex")
	assert.False(t, ok)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	f := setup(t, maintenance.WithMetrics(m))
	f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -58)))
	f.lead(t, t0.AddDate(0, -2, 0), testdata.WithActivity(t0.AddDate(0, 0, -20)))

	_, err := f.engine.CheckProgressWarnings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(maintenance.JobProgressWarning, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobCandidates.WithLabelValues(maintenance.JobProgressWarning)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobTransitions.WithLabelValues(maintenance.JobProgressWarning)))
}
