package testdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/jordanlanch/leadguard/pkg/models"
)

// BusinessTypes seen in the lead pipeline.
var BusinessTypes = []string{"RESTAURANT", "HOTEL", "CATERING", "CANTEEN", "BAKERY", "CAFE"}

// LocationData maps countries to their major cities
var LocationData = map[string][]string{
	"DE": {"Berlin", "Munich", "Hamburg", "Cologne", "Frankfurt",
		"Stuttgart", "Düsseldorf", "Dortmund", "Essen", "Leipzig"},
	"AT": {"Vienna", "Graz", "Linz", "Salzburg", "Innsbruck"},
	"CH": {"Zurich", "Geneva", "Basel", "Bern", "Lausanne"},
}

var businessNameSuffixes = map[string][]string{
	"RESTAURANT": {"Restaurant", "Bistro", "Gasthaus", "Wirtshaus"},
	"HOTEL":      {"Hotel", "Hotel & Spa", "Boutique Hotel"},
	"CATERING":   {"Catering", "Event Catering", "Partyservice"},
	"CANTEEN":    {"Kantine", "Betriebsrestaurant"},
	"BAKERY":     {"Bäckerei", "Backstube"},
	"CAFE":       {"Café", "Kaffeehaus", "Coffee Bar"},
}

// GenerateBusinessName returns a plausible company name for a business type.
func GenerateBusinessName(businessType string) string {
	suffixes, ok := businessNameSuffixes[businessType]
	if !ok {
		return fmt.Sprintf("%s %s", gofakeit.Company(), gofakeit.BuzzWord())
	}
	return fmt.Sprintf("%s %s", gofakeit.LastName(), suffixes[gofakeit.Number(0, len(suffixes)-1)])
}

// LeadOption customizes a generated lead.
type LeadOption func(*models.Lead)

// GenerateLead returns an unsaved REGISTERED lead with realistic contact
// data, registered at now.
func GenerateLead(now time.Time, opts ...LeadOption) *models.Lead {
	businessType := BusinessTypes[gofakeit.Number(0, len(BusinessTypes)-1)]
	country := "DE"
	cities := LocationData[country]
	city := cities[gofakeit.Number(0, len(cities)-1)]

	first, last := gofakeit.FirstName(), gofakeit.LastName()
	contact := first + " " + last
	email := strings.ToLower(fmt.Sprintf("%s.%s@%s", first, last, gofakeit.DomainName()))
	emailNorm := strings.ToLower(email)
	phone := fmt.Sprintf("030 %d", gofakeit.Number(1000000, 9999999))
	street := gofakeit.Street()
	postal := fmt.Sprintf("%05d", gofakeit.Number(10000, 99999))
	website := "https://" + gofakeit.DomainName()
	owner := gofakeit.Number(1, 50)
	campaign := "trade-fair-" + gofakeit.Word()

	l := &models.Lead{
		Status:            models.StatusRegistered,
		Stage:             models.StageVormerkung,
		RegisteredAt:      now,
		ProtectionStartAt: now,
		ProtectionMonths:  6,
		ContactPerson:     &contact,
		Email:             &email,
		EmailNormalized:   &emailNorm,
		Phone:             &phone,
		Street:            &street,
		PostalCode:        &postal,
		City:              &city,
		Website:           &website,
		CompanyName:       GenerateBusinessName(businessType),
		BusinessType:      &businessType,
		CountryCode:       country,
		SourceCampaign:    &campaign,
		OwnerUserID:       &owner,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithStatus sets the lead status.
func WithStatus(s models.LeadStatus) LeadOption {
	return func(l *models.Lead) { l.Status = s }
}

// WithStage sets the lead stage.
func WithStage(s models.LeadStage) LeadOption {
	return func(l *models.Lead) { l.Stage = s }
}

// WithActivity marks the lead ACTIVE with its last activity at t and the
// matching progress deadline.
func WithActivity(t time.Time) LeadOption {
	return func(l *models.Lead) {
		deadline := t.AddDate(0, 0, 60)
		l.Status = models.StatusActive
		l.LastActivityAt = &t
		l.ProgressDeadline = &deadline
	}
}

// WithDeadline sets the progress deadline directly; last activity is placed
// 60 days earlier to keep the pair consistent.
func WithDeadline(deadline time.Time) LeadOption {
	return func(l *models.Lead) {
		activity := deadline.AddDate(0, 0, -60)
		l.LastActivityAt = &activity
		l.ProgressDeadline = &deadline
	}
}

// WithWarningSentAt marks the progress warning as sent at t.
func WithWarningSentAt(t time.Time) LeadOption {
	return func(l *models.Lead) { l.ProgressWarningSentAt = &t }
}

// WithClockStopped pauses the lead clock at t.
func WithClockStopped(t time.Time, reason string) LeadOption {
	return func(l *models.Lead) {
		l.ClockStoppedAt = &t
		l.StopReason = &reason
	}
}

// WithExpiredAt marks the lead EXPIRED with updated_at at t.
func WithExpiredAt(t time.Time) LeadOption {
	return func(l *models.Lead) {
		l.Status = models.StatusExpired
		l.ExpiredAt = &t
		l.OwnerUserID = nil
		l.UpdatedAt = t
	}
}

// WithEmail overrides the email; nil removes it.
func WithEmail(email *string) LeadOption {
	return func(l *models.Lead) {
		l.Email = email
		l.EmailNormalized = nil
		if email != nil {
			n := strings.ToLower(*email)
			l.EmailNormalized = &n
		}
	}
}

// WithGDPRDeleted marks the lead as covered by a deletion request at t.
func WithGDPRDeleted(t time.Time) LeadOption {
	return func(l *models.Lead) { l.GDPRDeletedAt = &t }
}

// WithOwner sets the owning sales user.
func WithOwner(userID int) LeadOption {
	return func(l *models.Lead) { l.OwnerUserID = &userID }
}

// GenerateImportJob returns an unsaved import job created at now.
func GenerateImportJob(now time.Time, status models.ImportJobStatus) *models.ImportJob {
	total := gofakeit.Number(10, 5000)
	return &models.ImportJob{
		Source:       gofakeit.Word() + ".csv",
		Status:       status,
		RowsTotal:    total,
		RowsImported: total,
		CreatedAt:    now,
	}
}
