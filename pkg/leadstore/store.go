// Package leadstore persists leads, their status history and import job
// records. Every state-changing write is a conditional statement whose
// WHERE clause restates the precondition it relies on; the affected-row
// count tells the caller whether it won.
package leadstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/leadguard/pkg/database"
	"github.com/jordanlanch/leadguard/pkg/models"
	"github.com/jordanlanch/leadguard/pkg/protection"
)

// ErrNotFound is returned when a lead or import job does not exist.
var ErrNotFound = errors.New("record not found")

// Store reads and writes lead lifecycle state.
type Store struct {
	drv dialect.Driver
}

// NewStore creates a store on top of an ent SQL driver.
func NewStore(drv dialect.Driver) *Store {
	return &Store{drv: drv}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

// execer is satisfied by both the driver and a transaction.
type execer interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

func execAffected(ctx context.Context, ex execer, query string, args []any) (int64, error) {
	var res sql.Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insertReturningID(ctx context.Context, ex execer, query string, args []any) (int, error) {
	var rows entsql.Rows
	if err := ex.Query(ctx, query, args, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("insert returned no id")
	}
	var id int
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Close()
}

func workingStatusArgs() []any {
	args := make([]any, len(models.WorkingStatuses))
	for i, st := range models.WorkingStatuses {
		args[i] = string(st)
	}
	return args
}

// CreateLead inserts a lead and its initial status history entry.
func (s *Store) CreateLead(ctx context.Context, l *models.Lead, userID *int) (*models.Lead, error) {
	b := s.builder()
	query, args := b.Insert(database.LeadsTable).
		Columns(
			"status", "stage", "registered_at", "protection_start_at", "protection_months",
			"last_activity_at", "progress_deadline", "progress_warning_sent_at",
			"clock_stopped_at", "stop_reason", "stop_approved_by", "progress_pause_total_seconds",
			"expired_at",
			"contact_person", "email", "email_normalized", "email_hash", "phone", "phone_e164",
			"street", "postal_code", "city", "website",
			"company_name", "business_type", "country_code", "source_campaign",
			"pseudonymized_at", "gdpr_deleted_at", "owner_user_id",
			"created_at", "updated_at",
		).
		Values(
			string(l.Status), int(l.Stage), ts(l.RegisteredAt), ts(l.ProtectionStartAt), l.ProtectionMonths,
			nullableTime(l.LastActivityAt), nullableTime(l.ProgressDeadline), nullableTime(l.ProgressWarningSentAt),
			nullableTime(l.ClockStoppedAt), nullable(l.StopReason), nullable(l.StopApprovedBy), l.ProgressPauseTotalSeconds,
			nullableTime(l.ExpiredAt),
			nullable(l.ContactPerson), nullable(l.Email), nullable(l.EmailNormalized), nullable(l.EmailHash), nullable(l.Phone), nullable(l.PhoneE164),
			nullable(l.Street), nullable(l.PostalCode), nullable(l.City), nullable(l.Website),
			l.CompanyName, nullable(l.BusinessType), l.CountryCode, nullable(l.SourceCampaign),
			nullableTime(l.PseudonymizedAt), nullableTime(l.GDPRDeletedAt), nullable(l.OwnerUserID),
			ts(l.CreatedAt), ts(l.UpdatedAt),
		).
		Returning("id").
		Query()

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	id, err := insertReturningID(ctx, tx, query, args)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to insert lead: %w", err)
	}

	if err := s.insertHistory(ctx, tx, id, userID, "", l.Status, "lead registered", l.CreatedAt); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	created := *l
	created.ID = id
	return &created, nil
}

// GetLead loads a lead by id.
func (s *Store) GetLead(ctx context.Context, id int) (*models.Lead, error) {
	b := s.builder()
	query, args := b.Select(leadColumns...).
		From(b.Table(database.LeadsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	leads, err := s.queryLeads(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lead: %w", err)
	}
	if len(leads) == 0 {
		return nil, ErrNotFound
	}
	return leads[0], nil
}

// queryLeads reads the full result set and closes it before returning, so
// callers may write on the same connection afterwards.
func (s *Store) queryLeads(ctx context.Context, query string, args []any) ([]*models.Lead, error) {
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		l, err := scanLead(&rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leads, rows.Close()
}

// FindProgressWarningCandidates returns working leads whose progress
// deadline falls within the warning window and who have not been warned.
func (s *Store) FindProgressWarningCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error) {
	b := s.builder()
	query, args := b.Select(leadColumns...).
		From(b.Table(database.LeadsTable)).
		Where(progressWarningGuard(now)).
		OrderBy(entsql.Asc("progress_deadline"), entsql.Asc("id")).
		Limit(limit).
		Query()

	leads, err := s.queryLeads(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress warning candidates: %w", err)
	}
	return leads, nil
}

func progressWarningGuard(now time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.In("status", workingStatusArgs()...),
		entsql.NotNull("progress_deadline"),
		entsql.LTE("progress_deadline", ts(protection.WarningThreshold(now))),
		entsql.IsNull("progress_warning_sent_at"),
		entsql.IsNull("clock_stopped_at"),
		entsql.IsNull("pseudonymized_at"),
		entsql.IsNull("gdpr_deleted_at"),
	)
}

// MarkProgressWarningSent records the warning if the lead still qualifies.
// It reports false when another writer got there first or the lead no
// longer qualifies.
func (s *Store) MarkProgressWarningSent(ctx context.Context, id int, now time.Time) (bool, error) {
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("progress_warning_sent_at", ts(now)).
		Set("updated_at", ts(now)).
		Where(entsql.And(entsql.EQ("id", id), progressWarningGuard(now))).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to mark progress warning: %w", err)
	}
	return n == 1, nil
}

// FindExpiryCandidates returns working leads whose grace period after the
// progress warning has elapsed.
func (s *Store) FindExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error) {
	b := s.builder()
	query, args := b.Select(leadColumns...).
		From(b.Table(database.LeadsTable)).
		Where(entsql.And(
			entsql.In("status", workingStatusArgs()...),
			expiryGuard(now),
		)).
		OrderBy(entsql.Asc("progress_warning_sent_at"), entsql.Asc("id")).
		Limit(limit).
		Query()

	leads, err := s.queryLeads(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiry candidates: %w", err)
	}
	return leads, nil
}

func expiryGuard(now time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.NotNull("progress_warning_sent_at"),
		entsql.LTE("progress_warning_sent_at", ts(protection.GraceCutoff(now))),
		entsql.IsNull("clock_stopped_at"),
		entsql.IsNull("gdpr_deleted_at"),
	)
}

// ownerGuard pins the owner the caller observed, so a lead reassigned
// after it was read is not released from its new owner.
func ownerGuard(owner *int) *entsql.Predicate {
	if owner == nil {
		return entsql.IsNull("owner_user_id")
	}
	return entsql.EQ("owner_user_id", *owner)
}

// ExpireLead moves a lead from the observed working status to EXPIRED,
// releases its owner and writes the status history entry, all in one
// transaction. It reports false when the lead changed in the meantime,
// including a change of owner.
func (s *Store) ExpireLead(ctx context.Context, id int, observed models.LeadStatus, owner *int, now time.Time, reason string) (bool, error) {
	if !observed.IsWorking() {
		return false, nil
	}
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("status", string(models.StatusExpired)).
		SetNull("owner_user_id").
		Set("expired_at", ts(now)).
		Set("updated_at", ts(now)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(observed)),
			ownerGuard(owner),
			expiryGuard(now),
		)).
		Query()

	return s.transition(ctx, id, query, args, nil, observed, models.StatusExpired, reason, now)
}

// transition runs a guarded status update and, when it wins, records the
// history row in the same transaction.
func (s *Store) transition(ctx context.Context, id int, query string, args []any, userID *int, from, to models.LeadStatus, reason string, now time.Time) (bool, error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}

	n, err := execAffected(ctx, tx, query, args)
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to update lead status: %w", err)
	}
	if n == 0 {
		return false, tx.Rollback()
	}

	if from != to {
		if err := s.insertHistory(ctx, tx, id, userID, from, to, reason, now); err != nil {
			tx.Rollback()
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (s *Store) insertHistory(ctx context.Context, ex execer, leadID int, userID *int, from, to models.LeadStatus, reason string, at time.Time) error {
	var old any
	if from != "" {
		old = string(from)
	}
	var why any
	if reason != "" {
		why = reason
	}
	query, args := s.builder().Insert(database.StatusHistoryTable).
		Columns("lead_id", "user_id", "old_status", "new_status", "reason", "created_at").
		Values(leadID, nullable(userID), old, string(to), why, ts(at)).
		Query()
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("failed to create status history: %w", err)
	}
	return nil
}

// FindPseudonymizationCandidates returns expired leads past the retention
// period whose personal data is still present.
func (s *Store) FindPseudonymizationCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Lead, error) {
	b := s.builder()
	query, args := b.Select(leadColumns...).
		From(b.Table(database.LeadsTable)).
		Where(pseudonymizationGuard(now)).
		OrderBy(entsql.Asc("updated_at"), entsql.Asc("id")).
		Limit(limit).
		Query()

	leads, err := s.queryLeads(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query pseudonymization candidates: %w", err)
	}
	return leads, nil
}

func pseudonymizationGuard(now time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("status", string(models.StatusExpired)),
		entsql.LTE("updated_at", ts(protection.RetentionCutoff(now))),
		entsql.IsNull("pseudonymized_at"),
		entsql.IsNull("gdpr_deleted_at"),
	)
}

// AnonymizedMarker replaces the contact person of pseudonymized leads.
const AnonymizedMarker = "ANONYMIZED"

// PseudonymizeLead replaces all personal data of an expired lead in a single
// statement. emailHash is stored in both email and email_hash; nil clears
// both. Company data is left untouched.
func (s *Store) PseudonymizeLead(ctx context.Context, id int, emailHash *string, now time.Time) (bool, error) {
	b := s.builder()
	upd := b.Update(database.LeadsTable)
	if emailHash != nil {
		upd.Set("email", *emailHash).Set("email_hash", *emailHash)
	} else {
		upd.SetNull("email").SetNull("email_hash")
	}
	query, args := upd.
		SetNull("email_normalized").
		SetNull("phone").
		SetNull("phone_e164").
		SetNull("street").
		SetNull("postal_code").
		SetNull("city").
		SetNull("website").
		Set("contact_person", AnonymizedMarker).
		Set("pseudonymized_at", ts(now)).
		Where(entsql.And(entsql.EQ("id", id), pseudonymizationGuard(now))).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to pseudonymize lead: %w", err)
	}
	return n == 1, nil
}
