package models

import (
	"errors"
	"fmt"
	"time"
)

// LeadStatus is the coarse lifecycle state of a lead.
type LeadStatus string

const (
	StatusRegistered  LeadStatus = "REGISTERED"
	StatusActive      LeadStatus = "ACTIVE"
	StatusReminder    LeadStatus = "REMINDER"
	StatusGracePeriod LeadStatus = "GRACE_PERIOD"
	StatusExpired     LeadStatus = "EXPIRED"
	StatusConverted   LeadStatus = "CONVERTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []LeadStatus{
	StatusRegistered,
	StatusActive,
	StatusReminder,
	StatusGracePeriod,
	StatusExpired,
	StatusConverted,
}

// WorkingStatuses are the statuses in which a lead is still being worked
// and is subject to progress warnings and protection expiry.
var WorkingStatuses = []LeadStatus{StatusActive, StatusReminder, StatusGracePeriod}

// IsWorking reports whether s is one of WorkingStatuses.
func (s LeadStatus) IsWorking() bool {
	for _, w := range WorkingStatuses {
		if s == w {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s LeadStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusConverted
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s LeadStatus) String() string { return string(s) }

// CanTransitionStatus reports whether the lifecycle allows moving from one
// status to another. Transitions are strictly forward; CONVERTED is reachable
// from every pre-expiry status.
func CanTransitionStatus(from, to LeadStatus) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	switch to {
	case StatusConverted:
		return true
	case StatusActive:
		return from == StatusRegistered
	case StatusReminder:
		return from == StatusActive
	case StatusGracePeriod:
		return from == StatusActive || from == StatusReminder
	case StatusExpired:
		return from.IsWorking()
	}
	return false
}

// LeadStage is the progressive-profiling stage. Stages only move forward.
type LeadStage int

const (
	StageVormerkung    LeadStage = 0
	StageRegistrierung LeadStage = 1
	StageQualifiziert  LeadStage = 2
)

// MaxStage is the highest stage ordinal.
const MaxStage = StageQualifiziert

var stageNames = map[LeadStage]string{
	StageVormerkung:    "VORMERKUNG",
	StageRegistrierung: "REGISTRIERUNG",
	StageQualifiziert:  "QUALIFIZIERT",
}

// Valid reports whether the stage ordinal is within range.
func (s LeadStage) Valid() bool {
	return s >= StageVormerkung && s <= MaxStage
}

func (s LeadStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STAGE(%d)", int(s))
}

// Lead is a prospective customer under territory protection.
type Lead struct {
	ID     int        `json:"id"`
	Status LeadStatus `json:"status"`
	Stage  LeadStage  `json:"stage"`

	RegisteredAt      time.Time `json:"registered_at"`
	ProtectionStartAt time.Time `json:"protection_start_at"`
	ProtectionMonths  int       `json:"protection_months"`

	LastActivityAt        *time.Time `json:"last_activity_at,omitempty"`
	ProgressDeadline      *time.Time `json:"progress_deadline,omitempty"`
	ProgressWarningSentAt *time.Time `json:"progress_warning_sent_at,omitempty"`

	ClockStoppedAt            *time.Time `json:"clock_stopped_at,omitempty"`
	StopReason                *string    `json:"stop_reason,omitempty"`
	StopApprovedBy            *int       `json:"stop_approved_by,omitempty"`
	ProgressPauseTotalSeconds int64      `json:"progress_pause_total_seconds"`

	ExpiredAt *time.Time `json:"expired_at,omitempty"`

	ContactPerson   *string `json:"contact_person,omitempty"`
	Email           *string `json:"email,omitempty"`
	EmailNormalized *string `json:"-"`
	EmailHash       *string `json:"email_hash,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	PhoneE164       *string `json:"-"`
	Street          *string `json:"street,omitempty"`
	PostalCode      *string `json:"postal_code,omitempty"`
	City            *string `json:"city,omitempty"`
	Website         *string `json:"website,omitempty"`

	CompanyName    string  `json:"company_name"`
	BusinessType   *string `json:"business_type,omitempty"`
	CountryCode    string  `json:"country_code"`
	SourceCampaign *string `json:"source_campaign,omitempty"`

	PseudonymizedAt *time.Time `json:"pseudonymized_at,omitempty"`
	GDPRDeletedAt   *time.Time `json:"gdpr_deleted_at,omitempty"`

	OwnerUserID *int `json:"owner_user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClockStopped reports whether protection and deadlines are paused.
func (l *Lead) ClockStopped() bool {
	return l.ClockStoppedAt != nil
}

// Pseudonymized reports whether personal data has been replaced.
func (l *Lead) Pseudonymized() bool {
	return l.PseudonymizedAt != nil
}

// ProtectionAnchor is the instant protection is measured from.
func (l *Lead) ProtectionAnchor() time.Time {
	if !l.ProtectionStartAt.IsZero() {
		return l.ProtectionStartAt
	}
	return l.RegisteredAt
}

var (
	ErrDeadlineWithoutActivity = errors.New("progress deadline set without last activity")
	ErrActivityWithoutDeadline = errors.New("last activity set without progress deadline")
	ErrInvalidStage            = errors.New("stage out of range")
	ErrInvalidStatus           = errors.New("unknown status")
	ErrRegisteredInFuture      = errors.New("registered_at is in the future")
	ErrPseudonymizedNotExpired = errors.New("pseudonymized lead is not expired")
)

// Validate checks the structural invariants of a lead against now.
func (l *Lead) Validate(now time.Time) error {
	if !l.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, l.Status)
	}
	if !l.Stage.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStage, int(l.Stage))
	}
	if l.ProgressDeadline != nil && l.LastActivityAt == nil {
		return ErrDeadlineWithoutActivity
	}
	if l.LastActivityAt != nil && l.ProgressDeadline == nil {
		return ErrActivityWithoutDeadline
	}
	if l.RegisteredAt.After(now) {
		return ErrRegisteredInFuture
	}
	if l.PseudonymizedAt != nil && l.Status != StatusExpired {
		return ErrPseudonymizedNotExpired
	}
	return nil
}

// StatusHistory records one status change of a lead.
type StatusHistory struct {
	ID        int        `json:"id"`
	LeadID    int        `json:"lead_id"`
	UserID    *int       `json:"user_id,omitempty"`
	OldStatus LeadStatus `json:"old_status,omitempty"`
	NewStatus LeadStatus `json:"new_status"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
