package leadstore

import (
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/leadguard/pkg/models"
)

// leadColumns is the select list matching scanLead.
var leadColumns = []string{
	"id", "status", "stage",
	"registered_at", "protection_start_at", "protection_months",
	"last_activity_at", "progress_deadline", "progress_warning_sent_at",
	"clock_stopped_at", "stop_reason", "stop_approved_by", "progress_pause_total_seconds",
	"expired_at",
	"contact_person", "email", "email_normalized", "email_hash", "phone", "phone_e164",
	"street", "postal_code", "city", "website",
	"company_name", "business_type", "country_code", "source_campaign",
	"pseudonymized_at", "gdpr_deleted_at", "owner_user_id",
	"created_at", "updated_at",
}

var importJobColumns = []string{
	"id", "source", "status", "rows_total", "rows_imported",
	"created_at", "completed_at", "ttl_expires_at",
}

var historyColumns = []string{
	"id", "lead_id", "user_id", "old_status", "new_status", "reason", "created_at",
}

func scanLead(rows *entsql.Rows) (*models.Lead, error) {
	var (
		l                                                models.Lead
		status                                           string
		stage                                            int
		lastActivity, deadline, warned, stopped, expired sql.NullTime
		pseudonymized, gdprDeleted                       sql.NullTime
		stopReason, contact, email, emailNorm, emailHash sql.NullString
		phone, phoneE164, street, postal, city, website  sql.NullString
		businessType, campaign                           sql.NullString
		stopApprovedBy, owner                            sql.NullInt64
	)
	err := rows.Scan(
		&l.ID, &status, &stage,
		&l.RegisteredAt, &l.ProtectionStartAt, &l.ProtectionMonths,
		&lastActivity, &deadline, &warned,
		&stopped, &stopReason, &stopApprovedBy, &l.ProgressPauseTotalSeconds,
		&expired,
		&contact, &email, &emailNorm, &emailHash, &phone, &phoneE164,
		&street, &postal, &city, &website,
		&l.CompanyName, &businessType, &l.CountryCode, &campaign,
		&pseudonymized, &gdprDeleted, &owner,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = models.LeadStatus(status)
	l.Stage = models.LeadStage(stage)
	l.RegisteredAt = l.RegisteredAt.UTC()
	l.ProtectionStartAt = l.ProtectionStartAt.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()

	l.LastActivityAt = timePtr(lastActivity)
	l.ProgressDeadline = timePtr(deadline)
	l.ProgressWarningSentAt = timePtr(warned)
	l.ClockStoppedAt = timePtr(stopped)
	l.ExpiredAt = timePtr(expired)
	l.PseudonymizedAt = timePtr(pseudonymized)
	l.GDPRDeletedAt = timePtr(gdprDeleted)

	l.StopReason = stringPtr(stopReason)
	l.ContactPerson = stringPtr(contact)
	l.Email = stringPtr(email)
	l.EmailNormalized = stringPtr(emailNorm)
	l.EmailHash = stringPtr(emailHash)
	l.Phone = stringPtr(phone)
	l.PhoneE164 = stringPtr(phoneE164)
	l.Street = stringPtr(street)
	l.PostalCode = stringPtr(postal)
	l.City = stringPtr(city)
	l.Website = stringPtr(website)
	l.BusinessType = stringPtr(businessType)
	l.SourceCampaign = stringPtr(campaign)

	l.StopApprovedBy = intPtr(stopApprovedBy)
	l.OwnerUserID = intPtr(owner)

	return &l, nil
}

func scanImportJob(rows *entsql.Rows) (*models.ImportJob, error) {
	var (
		j                  models.ImportJob
		status             string
		completed, ttlTime sql.NullTime
	)
	if err := rows.Scan(&j.ID, &j.Source, &status, &j.RowsTotal, &j.RowsImported,
		&j.CreatedAt, &completed, &ttlTime); err != nil {
		return nil, err
	}
	j.Status = models.ImportJobStatus(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.CompletedAt = timePtr(completed)
	j.TTLExpiresAt = timePtr(ttlTime)
	return &j, nil
}

func scanHistory(rows *entsql.Rows) (*models.StatusHistory, error) {
	var (
		h         models.StatusHistory
		userID    sql.NullInt64
		oldStatus sql.NullString
		newStatus string
		reason    sql.NullString
	)
	if err := rows.Scan(&h.ID, &h.LeadID, &userID, &oldStatus, &newStatus, &reason, &h.CreatedAt); err != nil {
		return nil, err
	}
	h.UserID = intPtr(userID)
	h.OldStatus = models.LeadStatus(oldStatus.String)
	h.NewStatus = models.LeadStatus(newStatus)
	h.Reason = reason.String
	h.CreatedAt = h.CreatedAt.UTC()
	return &h, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// nullable converts optional values to driver arguments.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return ts(*p)
}

// ts normalizes instants before they reach the database: UTC and microsecond
// precision, so values read back compare equal to values written.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
