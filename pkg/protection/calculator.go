// Package protection holds the pure date arithmetic behind lead territory
// protection. Nothing here performs I/O or reads the system clock; callers
// pass "now" explicitly.
package protection

import (
	"math"
	"time"

	"github.com/jordanlanch/leadguard/pkg/models"
)

const (
	// ProgressDeadlineDays is the window after the last activity in which
	// the owner must make progress on the lead.
	ProgressDeadlineDays = 60
	// WarningDaysBeforeDeadline is how early the owner is warned.
	WarningDaysBeforeDeadline = 7
	// GracePeriodDays runs from the warning to expiry.
	GracePeriodDays = 10
	// PseudonymizationRetentionDays is how long expired PII is retained.
	PseudonymizationRetentionDays = 60
	// ImportJobRetentionDays is the TTL of finished import job records.
	ImportJobRetentionDays = 7
	// DefaultProtectionMonths applies when a lead has no explicit term.
	DefaultProtectionMonths = 6
)

const day = 24 * time.Hour

// Days returns n days as a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * day
}

// CanTransitionStage reports whether a lead may move from current to
// target. Stages advance by one step at most and never go backwards.
func CanTransitionStage(current, target models.LeadStage) bool {
	if !current.Valid() || !target.Valid() {
		return false
	}
	return target == current || target == current+1
}

// AddMonths adds calendar months to t. The day of month is kept when it
// exists in the target month and clamped to the month's last day otherwise,
// so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// CalculateProtectionUntil returns the end of the protection window.
func CalculateProtectionUntil(start time.Time, months int) time.Time {
	if months <= 0 {
		months = DefaultProtectionMonths
	}
	return AddMonths(start, months)
}

// CalculateProgressDeadline returns lastActivityAt + 60 days, or nil when
// there has been no activity yet.
func CalculateProgressDeadline(lastActivityAt *time.Time) *time.Time {
	if lastActivityAt == nil {
		return nil
	}
	d := lastActivityAt.Add(Days(ProgressDeadlineDays))
	return &d
}

// WarningThreshold is the latest progress deadline that is due for a
// warning at now.
func WarningThreshold(now time.Time) time.Time {
	return now.Add(Days(WarningDaysBeforeDeadline))
}

// NeedsProgressWarning reports whether the owner should be warned now.
func NeedsProgressWarning(l *models.Lead, now time.Time) bool {
	if l.ProgressDeadline == nil || l.ProgressWarningSentAt != nil {
		return false
	}
	return !l.ProgressDeadline.After(WarningThreshold(now))
}

// GraceCutoff is the latest warning instant whose grace period has fully
// elapsed at now.
func GraceCutoff(now time.Time) time.Time {
	return now.Add(-Days(GracePeriodDays))
}

// GraceDeadline is the instant the grace period following a warning ends.
func GraceDeadline(warnedAt time.Time) time.Time {
	return warnedAt.Add(Days(GracePeriodDays))
}

// GraceElapsed reports whether a warned, running, non-terminal lead has
// used up its grace period.
func GraceElapsed(l *models.Lead, now time.Time) bool {
	if l.ProgressWarningSentAt == nil || l.ClockStopped() || !l.Status.IsWorking() {
		return false
	}
	return !l.ProgressWarningSentAt.After(GraceCutoff(now))
}

// RetentionCutoff is the latest expiry instant whose PII retention has
// elapsed at now.
func RetentionCutoff(now time.Time) time.Time {
	return now.Add(-Days(PseudonymizationRetentionDays))
}

// PseudonymizationDue reports whether an expired lead's PII must be replaced.
func PseudonymizationDue(l *models.Lead, now time.Time) bool {
	if l.Status != models.StatusExpired || l.Pseudonymized() {
		return false
	}
	return !l.UpdatedAt.After(RetentionCutoff(now))
}

// ImportJobTTL returns the archival deadline of a finished import job.
func ImportJobTTL(completedAt time.Time) time.Time {
	return completedAt.Add(Days(ImportJobRetentionDays))
}

// RemainingProtectionDays returns whole days until protection lapses.
// A stopped clock means unlimited protection (math.MaxInt). A lapsed
// window yields a negative value.
func RemainingProtectionDays(l *models.Lead, now time.Time) int {
	if l.ClockStopped() {
		return math.MaxInt
	}
	end := CalculateProtectionUntil(l.ProtectionAnchor(), l.ProtectionMonths)
	return floorDays(end.Sub(now))
}

// DaysUntilNextTransition returns whole days until the engine will act on
// the lead next, 0 when it is due now, or -1 when nothing is scheduled.
func DaysUntilNextTransition(l *models.Lead, now time.Time) int {
	if l.ClockStopped() || l.Status.IsTerminal() {
		return -1
	}
	var at time.Time
	switch {
	case l.ProgressWarningSentAt != nil:
		at = GraceDeadline(*l.ProgressWarningSentAt)
	case l.ProgressDeadline != nil:
		at = l.ProgressDeadline.Add(-Days(WarningDaysBeforeDeadline))
	default:
		return -1
	}
	if !now.Before(at) {
		return 0
	}
	return floorDays(at.Sub(now))
}

// Status is a read-only protection summary for one lead.
type Status struct {
	LeadID              int               `json:"lead_id"`
	CurrentStatus       models.LeadStatus `json:"current_status"`
	Stage               models.LeadStage  `json:"stage"`
	IsProtected         bool              `json:"is_protected"`
	ClockStopped        bool              `json:"clock_stopped"`
	RemainingDays       int               `json:"remaining_days"`
	DaysUntilTransition int               `json:"days_until_transition"`
	ProtectionUntil     time.Time         `json:"protection_until"`
	ProgressDeadline    *time.Time        `json:"progress_deadline,omitempty"`
	WarningSent         bool              `json:"warning_sent"`
	StopReason          *string           `json:"stop_reason,omitempty"`
	StoppedBy           *int              `json:"stopped_by,omitempty"`
	StoppedAt           *time.Time        `json:"stopped_at,omitempty"`
}

// Summarize builds the protection summary for l at now.
func Summarize(l *models.Lead, now time.Time) Status {
	s := Status{
		LeadID:              l.ID,
		CurrentStatus:       l.Status,
		Stage:               l.Stage,
		ClockStopped:        l.ClockStopped(),
		RemainingDays:       RemainingProtectionDays(l, now),
		DaysUntilTransition: DaysUntilNextTransition(l, now),
		ProtectionUntil:     CalculateProtectionUntil(l.ProtectionAnchor(), l.ProtectionMonths),
		ProgressDeadline:    l.ProgressDeadline,
		WarningSent:         l.ProgressWarningSentAt != nil,
	}
	s.IsProtected = !l.Status.IsTerminal() && s.RemainingDays >= 0
	if l.ClockStopped() {
		s.StopReason = l.StopReason
		s.StoppedBy = l.StopApprovedBy
		s.StoppedAt = l.ClockStoppedAt
	}
	return s
}

// CanStopClock reports whether the protection clock may be paused.
func CanStopClock(l *models.Lead) bool {
	return !l.Status.IsTerminal() && !l.ClockStopped()
}

// CanResumeClock reports whether a paused clock may be resumed.
func CanResumeClock(l *models.Lead) bool {
	return l.ClockStopped()
}

func floorDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
