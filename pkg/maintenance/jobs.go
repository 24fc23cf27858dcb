package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/leadstore"
	"github.com/jordanlanch/leadguard/pkg/models"
	"github.com/jordanlanch/leadguard/pkg/protection"
)

const (
	reasonProtectionExpired = "protection expired"
	reasonManualExpiry      = "manually expired"
)

// CheckProgressWarnings flags working leads whose progress deadline is at
// most seven days away and emits ProgressWarningIssued for each lead it
// flagged. It returns the number of leads flagged.
func (e *Engine) CheckProgressWarnings(ctx context.Context) (int, error) {
	return e.run(ctx, JobProgressWarning, func(ctx context.Context, now time.Time, t *tally) error {
		leads, err := e.store.FindProgressWarningCandidates(ctx, now, e.batchSize)
		if err != nil {
			return err
		}

		e.forEach(ctx, t, len(leads), func(ctx context.Context, i int) outcome {
			l := leads[i]
			ok, err := e.store.MarkProgressWarningSent(ctx, l.ID, now)
			if err != nil {
				e.log.Error("failed to mark progress warning", "lead_id", l.ID, "error", err)
				return failed
			}
			if !ok {
				e.log.Debug("progress warning skipped, lead changed", "lead_id", l.ID)
				return lost
			}

			ev := events.ProgressWarningIssued{LeadID: l.ID, AssignedTo: l.OwnerUserID}
			if l.ProgressDeadline != nil {
				ev.ProgressDeadline = *l.ProgressDeadline
			}
			e.publish(ctx, ev)
			return won
		})
		return nil
	})
}

// CheckProtectionExpiry expires warned leads whose ten-day grace period has
// elapsed, releasing their owner, and emits LeadProtectionExpired for each.
// It returns the number of leads expired.
func (e *Engine) CheckProtectionExpiry(ctx context.Context) (int, error) {
	return e.run(ctx, JobProtectionExpiry, func(ctx context.Context, now time.Time, t *tally) error {
		leads, err := e.store.FindExpiryCandidates(ctx, now, e.batchSize)
		if err != nil {
			return err
		}

		e.forEach(ctx, t, len(leads), func(ctx context.Context, i int) outcome {
			l := leads[i]
			ok, err := e.store.ExpireLead(ctx, l.ID, l.Status, l.OwnerUserID, now, reasonProtectionExpired)
			if err != nil {
				e.log.Error("failed to expire lead", "lead_id", l.ID, "error", err)
				return failed
			}
			if !ok {
				e.log.Debug("expiry skipped, lead changed", "lead_id", l.ID)
				return lost
			}

			e.publish(ctx, events.LeadProtectionExpired{LeadID: l.ID, PreviouslyAssignedTo: l.OwnerUserID})
			return won
		})
		return nil
	})
}

// PseudonymizeExpiredLeads replaces the personal data of leads expired for
// at least sixty days. One LeadsPseudonymized event summarizes the batch.
func (e *Engine) PseudonymizeExpiredLeads(ctx context.Context) (int, error) {
	return e.run(ctx, JobPseudonymization, func(ctx context.Context, now time.Time, t *tally) error {
		leads, err := e.store.FindPseudonymizationCandidates(ctx, now, e.batchSize)
		if err != nil {
			return err
		}

		e.forEach(ctx, t, len(leads), func(ctx context.Context, i int) outcome {
			l := leads[i]
			ok, err := e.store.PseudonymizeLead(ctx, l.ID, models.HashEmail(l.Email), now)
			if err != nil {
				e.log.Error("failed to pseudonymize lead", "lead_id", l.ID, "error", err)
				return failed
			}
			if !ok {
				e.log.Debug("pseudonymization skipped, lead changed", "lead_id", l.ID)
				return lost
			}
			return won
		})

		if count := int(t.won.Load()); count > 0 {
			e.publish(context.WithoutCancel(ctx), events.LeadsPseudonymized{Count: count})
		}
		return nil
	})
}

// ArchiveImportJobs deletes finished import jobs whose retention has ended.
// One ImportJobsArchived event summarizes the batch.
func (e *Engine) ArchiveImportJobs(ctx context.Context) (int, error) {
	return e.run(ctx, JobImportJobArchival, func(ctx context.Context, now time.Time, t *tally) error {
		jobs, err := e.store.FindArchivableImportJobs(ctx, now, e.batchSize)
		if err != nil {
			return err
		}

		e.forEach(ctx, t, len(jobs), func(ctx context.Context, i int) outcome {
			j := jobs[i]
			ok, err := e.store.DeleteImportJob(ctx, j.ID, now)
			if err != nil {
				e.log.Error("failed to archive import job", "import_job_id", j.ID, "error", err)
				return failed
			}
			if !ok {
				return lost
			}
			return won
		})

		if count := int(t.won.Load()); count > 0 {
			e.publish(context.WithoutCancel(ctx), events.ImportJobsArchived{Count: count})
		}
		return nil
	})
}

// ExpireLead expires a single lead on operator request. It applies the same
// preconditions as the scheduled expiry and reports a precondition error
// when the lead does not qualify.
func (e *Engine) ExpireLead(ctx context.Context, leadID int) error {
	now := e.clock.Now()

	l, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, leadstore.ErrNotFound) {
			return domain.NewNotFoundError("lead")
		}
		return domain.NewInternalError(err)
	}

	switch {
	case l.Status.IsTerminal():
		return domain.NewPreconditionError(fmt.Sprintf("lead is already %s", l.Status))
	case !l.Status.IsWorking():
		return domain.NewPreconditionError(fmt.Sprintf("lead in status %s cannot expire", l.Status))
	case l.ClockStopped():
		return domain.NewPreconditionError("protection clock is stopped")
	case l.GDPRDeletedAt != nil:
		return domain.NewPreconditionError("lead is under a GDPR deletion request")
	case l.ProgressWarningSentAt == nil:
		return domain.NewPreconditionError("no progress warning has been issued")
	case !protection.GraceElapsed(l, now):
		return domain.NewPreconditionError(fmt.Sprintf("grace period runs until %s",
			protection.GraceDeadline(*l.ProgressWarningSentAt).Format(time.RFC3339)))
	}

	ok, err := e.store.ExpireLead(ctx, l.ID, l.Status, l.OwnerUserID, now, reasonManualExpiry)
	if err != nil {
		return domain.NewInternalError(err)
	}
	if !ok {
		return domain.NewConflictError("lead changed concurrently, retry")
	}

	e.log.Info("lead expired manually", "lead_id", l.ID)
	e.publish(context.WithoutCancel(ctx), events.LeadProtectionExpired{LeadID: l.ID, PreviouslyAssignedTo: l.OwnerUserID})
	return nil
}
