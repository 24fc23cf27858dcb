package leadstore

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/leadguard/pkg/database"
	"github.com/jordanlanch/leadguard/pkg/models"
)

// ActivityUpdate describes a recorded sales activity on a lead.
type ActivityUpdate struct {
	LeadID   int
	UserID   *int
	At       time.Time
	Deadline time.Time
	// From is the status the caller observed; To is the status to set.
	From models.LeadStatus
	To   models.LeadStatus
}

// RecordActivity stores the activity, moves the progress deadline and clears
// the warning flag. It only applies while the lead is still in the observed,
// non-terminal status.
func (s *Store) RecordActivity(ctx context.Context, u ActivityUpdate) (bool, error) {
	if u.From.IsTerminal() {
		return false, nil
	}
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("status", string(u.To)).
		Set("last_activity_at", ts(u.At)).
		Set("progress_deadline", ts(u.Deadline)).
		SetNull("progress_warning_sent_at").
		Set("updated_at", ts(u.At)).
		Where(entsql.And(
			entsql.EQ("id", u.LeadID),
			entsql.EQ("status", string(u.From)),
			entsql.IsNull("pseudonymized_at"),
		)).
		Query()

	return s.transition(ctx, u.LeadID, query, args, u.UserID, u.From, u.To, "activity recorded", u.At)
}

// AdvanceStage moves the lead from the observed stage to the next one.
func (s *Store) AdvanceStage(ctx context.Context, id int, from, to models.LeadStage, now time.Time) (bool, error) {
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("stage", int(to)).
		Set("updated_at", ts(now)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("stage", int(from)),
			entsql.NotIn("status", string(models.StatusExpired), string(models.StatusConverted)),
		)).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to advance stage: %w", err)
	}
	return n == 1, nil
}

// StopClock pauses protection and deadlines for a non-terminal lead.
func (s *Store) StopClock(ctx context.Context, id int, now time.Time, reason string, approvedBy *int) (bool, error) {
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("clock_stopped_at", ts(now)).
		Set("stop_reason", reason).
		Set("stop_approved_by", nullable(approvedBy)).
		Set("updated_at", ts(now)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.IsNull("clock_stopped_at"),
			entsql.NotIn("status", string(models.StatusExpired), string(models.StatusConverted)),
		)).
		Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to stop clock: %w", err)
	}
	return n == 1, nil
}

// ClockResume describes resuming a paused lead.
type ClockResume struct {
	LeadID int
	Now    time.Time
	// StoppedAt, LastActivityAt and WarningSentAt are the values the
	// caller observed. A set WarningSentAt is moved forward by the pause.
	StoppedAt      time.Time
	LastActivityAt *time.Time
	WarningSentAt  *time.Time
	// Deadline is the shifted progress deadline, nil when there is none.
	Deadline     *time.Time
	PauseSeconds int64
}

// ResumeClock clears the pause, shifts the deadline and the warning time
// and accumulates the paused time. It only applies if neither the pause,
// the last activity nor the warning changed since the caller read the lead.
func (s *Store) ResumeClock(ctx context.Context, r ClockResume) (bool, error) {
	activityGuard := entsql.IsNull("last_activity_at")
	if r.LastActivityAt != nil {
		activityGuard = entsql.EQ("last_activity_at", ts(*r.LastActivityAt))
	}
	warningGuard := entsql.IsNull("progress_warning_sent_at")
	if r.WarningSentAt != nil {
		warningGuard = entsql.EQ("progress_warning_sent_at", ts(*r.WarningSentAt))
	}

	b := s.builder()
	upd := b.Update(database.LeadsTable).
		SetNull("clock_stopped_at").
		SetNull("stop_reason").
		SetNull("stop_approved_by").
		Add("progress_pause_total_seconds", r.PauseSeconds).
		Set("updated_at", ts(r.Now))
	if r.Deadline != nil {
		upd.Set("progress_deadline", ts(*r.Deadline))
	}
	if r.WarningSentAt != nil {
		shifted := r.WarningSentAt.Add(time.Duration(r.PauseSeconds) * time.Second)
		upd.Set("progress_warning_sent_at", ts(shifted))
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("id", r.LeadID),
		entsql.EQ("clock_stopped_at", ts(r.StoppedAt)),
		activityGuard,
		warningGuard,
	)).Query()

	n, err := execAffected(ctx, s.drv, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to resume clock: %w", err)
	}
	return n == 1, nil
}

// ConvertLead marks a pre-expiry lead as won.
func (s *Store) ConvertLead(ctx context.Context, id int, from models.LeadStatus, userID *int, now time.Time) (bool, error) {
	if from.IsTerminal() {
		return false, nil
	}
	b := s.builder()
	query, args := b.Update(database.LeadsTable).
		Set("status", string(models.StatusConverted)).
		Set("updated_at", ts(now)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(from)),
		)).
		Query()

	return s.transition(ctx, id, query, args, userID, from, models.StatusConverted, "lead converted", now)
}

// ListStatusHistory returns the status changes of a lead, oldest first.
func (s *Store) ListStatusHistory(ctx context.Context, leadID int) ([]*models.StatusHistory, error) {
	b := s.builder()
	query, args := b.Select(historyColumns...).
		From(b.Table(database.StatusHistoryTable)).
		Where(entsql.EQ("lead_id", leadID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var history []*models.StatusHistory
	for rows.Next() {
		h, err := scanHistory(&rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// CountByStatus returns the number of leads per status. Statuses without
// leads are absent from the map.
func (s *Store) CountByStatus(ctx context.Context) (map[models.LeadStatus]int, error) {
	b := s.builder()
	query, args := b.Select("status", entsql.Count("*")).
		From(b.Table(database.LeadsTable)).
		GroupBy("status").
		Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to count leads by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LeadStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.LeadStatus(status)] = n
	}
	return counts, rows.Err()
}
