package leadlifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jordanlanch/leadguard/pkg/clock"
	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/leadstore"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/models"
	"github.com/jordanlanch/leadguard/pkg/phone"
	"github.com/jordanlanch/leadguard/pkg/protection"
)

// Store is the persistence used by the lifecycle service.
type Store interface {
	CreateLead(ctx context.Context, l *models.Lead, userID *int) (*models.Lead, error)
	GetLead(ctx context.Context, id int) (*models.Lead, error)
	RecordActivity(ctx context.Context, u leadstore.ActivityUpdate) (bool, error)
	AdvanceStage(ctx context.Context, id int, from, to models.LeadStage, now time.Time) (bool, error)
	StopClock(ctx context.Context, id int, now time.Time, reason string, approvedBy *int) (bool, error)
	ResumeClock(ctx context.Context, r leadstore.ClockResume) (bool, error)
	ConvertLead(ctx context.Context, id int, from models.LeadStatus, userID *int, now time.Time) (bool, error)
	ListStatusHistory(ctx context.Context, leadID int) ([]*models.StatusHistory, error)
	CountByStatus(ctx context.Context) (map[models.LeadStatus]int, error)
}

// Service handles lead lifecycle operations driven by sales users.
type Service struct {
	store     Store
	clock     clock.Clock
	log       logger.Logger
	validator *validator.Validate
}

// NewService creates a new lead lifecycle service.
func NewService(store Store, clk clock.Clock, log logger.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		clock:     clk,
		log:       log,
		validator: validator.New(),
	}
}

// RegisterRequest represents a request to register a new lead.
type RegisterRequest struct {
	CompanyName      string     `json:"company_name" validate:"required,max=255"`
	CountryCode      string     `json:"country_code" validate:"required,len=2,alpha"`
	BusinessType     string     `json:"business_type,omitempty" validate:"omitempty,max=64"`
	ContactPerson    string     `json:"contact_person,omitempty" validate:"omitempty,max=255"`
	Email            string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone            string     `json:"phone,omitempty" validate:"omitempty,max=40"`
	Street           string     `json:"street,omitempty" validate:"omitempty,max=255"`
	PostalCode       string     `json:"postal_code,omitempty" validate:"omitempty,max=16"`
	City             string     `json:"city,omitempty" validate:"omitempty,max=128"`
	Website          string     `json:"website,omitempty" validate:"omitempty,url"`
	SourceCampaign   string     `json:"source_campaign,omitempty" validate:"omitempty,max=128"`
	ProtectionMonths int        `json:"protection_months,omitempty" validate:"omitempty,min=1,max=36"`
	RegisteredAt     *time.Time `json:"registered_at,omitempty"`
	OwnerUserID      *int       `json:"owner_user_id,omitempty" validate:"omitempty,min=1"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Register creates a lead in status REGISTERED at stage 0. Protection starts
// at the registration instant, which may be back-dated but not in the future.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Lead, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.CountryCode = strings.TrimSpace(req.CountryCode)
	req.Website = strings.TrimSpace(req.Website)

	if err := s.validator.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	now := s.clock.Now()
	registeredAt := now
	if req.RegisteredAt != nil {
		if req.RegisteredAt.After(now) {
			return nil, domain.NewValidationError("registered_at cannot be in the future")
		}
		registeredAt = req.RegisteredAt.UTC()
	}

	months := req.ProtectionMonths
	if months == 0 {
		months = protection.DefaultProtectionMonths
	}

	country := strings.ToUpper(req.CountryCode)
	l := &models.Lead{
		Status:            models.StatusRegistered,
		Stage:             models.StageVormerkung,
		RegisteredAt:      registeredAt,
		ProtectionStartAt: registeredAt,
		ProtectionMonths:  months,
		ContactPerson:     optional(req.ContactPerson),
		Email:             optional(req.Email),
		Phone:             optional(req.Phone),
		Street:            optional(req.Street),
		PostalCode:        optional(req.PostalCode),
		City:              optional(req.City),
		Website:           optional(req.Website),
		CompanyName:       strings.TrimSpace(req.CompanyName),
		BusinessType:      optional(req.BusinessType),
		CountryCode:       country,
		SourceCampaign:    optional(req.SourceCampaign),
		OwnerUserID:       req.OwnerUserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if l.Email != nil {
		normalized := models.NormalizeEmail(*l.Email)
		l.EmailNormalized = &normalized
		l.EmailHash = models.HashEmail(l.Email)
	}
	if l.Phone != nil {
		e164, err := phone.Normalize(*l.Phone, country)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("phone: %v", err))
		}
		l.PhoneE164 = &e164
	}

	created, err := s.store.CreateLead(ctx, l, req.OwnerUserID)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}

	s.log.Info("lead registered", "lead_id", created.ID, "country_code", created.CountryCode)
	return created, nil
}

func (s *Service) load(ctx context.Context, leadID int) (*models.Lead, error) {
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, leadstore.ErrNotFound) {
			return nil, domain.NewNotFoundError("lead")
		}
		return nil, domain.NewInternalError(err)
	}
	return l, nil
}

// RecordActivity registers a sales activity on the lead: the last activity
// becomes now, the progress deadline moves to now+60d and any pending
// progress warning is cleared. A REGISTERED lead becomes ACTIVE.
func (s *Service) RecordActivity(ctx context.Context, leadID int, userID *int) (*models.Lead, error) {
	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if l.Status.IsTerminal() {
		return nil, domain.NewPreconditionError(fmt.Sprintf("cannot record activity on %s lead", l.Status))
	}

	now := s.clock.Now()
	to := l.Status
	if l.Status == models.StatusRegistered {
		to = models.StatusActive
	}

	ok, err := s.store.RecordActivity(ctx, leadstore.ActivityUpdate{
		LeadID:   l.ID,
		UserID:   userID,
		At:       now,
		Deadline: *protection.CalculateProgressDeadline(&now),
		From:     l.Status,
		To:       to,
	})
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	if !ok {
		return nil, domain.NewConflictError("lead changed concurrently, retry")
	}

	return s.load(ctx, leadID)
}

// AdvanceStage moves the lead to the next profiling stage.
func (s *Service) AdvanceStage(ctx context.Context, leadID int, target models.LeadStage) (*models.Lead, error) {
	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if l.Status.IsTerminal() {
		return nil, domain.NewPreconditionError(fmt.Sprintf("cannot change stage of %s lead", l.Status))
	}
	if !protection.CanTransitionStage(l.Stage, target) {
		return nil, domain.NewInvalidTransitionError(l.Stage.String(), target.String())
	}
	if target == l.Stage {
		return l, nil
	}

	ok, err := s.store.AdvanceStage(ctx, l.ID, l.Stage, target, s.clock.Now())
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	if !ok {
		return nil, domain.NewConflictError("lead changed concurrently, retry")
	}
	return s.load(ctx, leadID)
}

// StopClock pauses protection and deadlines, for example while a customer
// is unreachable for an approved reason.
func (s *Service) StopClock(ctx context.Context, leadID int, reason string, approvedBy *int) (*models.Lead, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason is required to stop the clock")
	}

	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !protection.CanStopClock(l) {
		if l.ClockStopped() {
			return nil, domain.NewPreconditionError("clock is already stopped")
		}
		return nil, domain.NewPreconditionError(fmt.Sprintf("cannot stop clock of %s lead", l.Status))
	}

	ok, err := s.store.StopClock(ctx, l.ID, s.clock.Now(), reason, approvedBy)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	if !ok {
		return nil, domain.NewConflictError("lead changed concurrently, retry")
	}

	s.log.Info("protection clock stopped", "lead_id", l.ID, "reason", reason)
	return s.load(ctx, leadID)
}

// ResumeClock ends a pause. The progress deadline moves forward by the
// length of the pause, which is also added to the lead's pause total.
func (s *Service) ResumeClock(ctx context.Context, leadID int) (*models.Lead, error) {
	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !protection.CanResumeClock(l) {
		return nil, domain.NewPreconditionError("clock is not stopped")
	}

	now := s.clock.Now()
	pause := now.Sub(*l.ClockStoppedAt).Truncate(time.Second)
	if pause < 0 {
		pause = 0
	}

	r := leadstore.ClockResume{
		LeadID:         l.ID,
		Now:            now,
		StoppedAt:      *l.ClockStoppedAt,
		LastActivityAt: l.LastActivityAt,
		WarningSentAt:  l.ProgressWarningSentAt,
		PauseSeconds:   int64(pause / time.Second),
	}
	if l.ProgressDeadline != nil {
		shifted := l.ProgressDeadline.Add(pause)
		r.Deadline = &shifted
	}

	ok, err := s.store.ResumeClock(ctx, r)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	if !ok {
		return nil, domain.NewConflictError("lead changed concurrently, retry")
	}

	s.log.Info("protection clock resumed", "lead_id", l.ID, "paused_seconds", r.PauseSeconds)
	return s.load(ctx, leadID)
}

// Convert marks the lead as won. Expired leads cannot be converted.
func (s *Service) Convert(ctx context.Context, leadID int, userID *int) (*models.Lead, error) {
	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionStatus(l.Status, models.StatusConverted) {
		return nil, domain.NewInvalidTransitionError(l.Status.String(), models.StatusConverted.String())
	}

	ok, err := s.store.ConvertLead(ctx, l.ID, l.Status, userID, s.clock.Now())
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	if !ok {
		return nil, domain.NewConflictError("lead changed concurrently, retry")
	}
	return s.load(ctx, leadID)
}

// GetProtectionStatus returns the protection summary of a lead.
func (s *Service) GetProtectionStatus(ctx context.Context, leadID int) (*protection.Status, error) {
	l, err := s.load(ctx, leadID)
	if err != nil {
		return nil, err
	}
	st := protection.Summarize(l, s.clock.Now())
	return &st, nil
}

// GetStatusHistory retrieves the status change history of a lead, oldest
// first.
func (s *Service) GetStatusHistory(ctx context.Context, leadID int) ([]*models.StatusHistory, error) {
	if _, err := s.load(ctx, leadID); err != nil {
		return nil, err
	}
	history, err := s.store.ListStatusHistory(ctx, leadID)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	return history, nil
}

// GetStatusCounts returns count of leads in each status.
func (s *Service) GetStatusCounts(ctx context.Context) (map[string]int, error) {
	raw, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	counts := make(map[string]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[string(st)] = raw[st]
	}
	return counts, nil
}
