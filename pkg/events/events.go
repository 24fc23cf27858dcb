// Package events defines the lifecycle events emitted by the maintenance
// engine and the sinks that deliver them.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event names used on the wire.
const (
	NameProgressWarningIssued = "lead.progress_warning_issued"
	NameLeadProtectionExpired = "lead.protection_expired"
	NameLeadsPseudonymized    = "leads.pseudonymized"
	NameImportJobsArchived    = "import_jobs.archived"
)

// Event is one of ProgressWarningIssued, LeadProtectionExpired,
// LeadsPseudonymized or ImportJobsArchived.
type Event interface {
	EventName() string
	isEvent()
}

// ProgressWarningIssued is emitted once per lead when its owner is warned
// that the progress deadline is near.
type ProgressWarningIssued struct {
	LeadID           int       `json:"lead_id"`
	AssignedTo       *int      `json:"assigned_to,omitempty"`
	ProgressDeadline time.Time `json:"progress_deadline"`
}

// LeadProtectionExpired is emitted once per lead when protection lapses.
type LeadProtectionExpired struct {
	LeadID               int  `json:"lead_id"`
	PreviouslyAssignedTo *int `json:"previously_assigned_to,omitempty"`
}

// LeadsPseudonymized summarizes one pseudonymization run.
type LeadsPseudonymized struct {
	Count int `json:"count"`
}

// ImportJobsArchived summarizes one import job archival run.
type ImportJobsArchived struct {
	Count int `json:"count"`
}

func (ProgressWarningIssued) EventName() string { return NameProgressWarningIssued }
func (LeadProtectionExpired) EventName() string { return NameLeadProtectionExpired }
func (LeadsPseudonymized) EventName() string    { return NameLeadsPseudonymized }
func (ImportJobsArchived) EventName() string    { return NameImportJobsArchived }

func (ProgressWarningIssued) isEvent() {}
func (LeadProtectionExpired) isEvent() {}
func (LeadsPseudonymized) isEvent()    {}
func (ImportJobsArchived) isEvent()    {}

// Sink receives lifecycle events. Delivery is fire-and-forget from the
// emitter's point of view: a returned error is logged, never retried.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Envelope is the serialized form shared by the transport sinks.
type Envelope struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Marshal encodes e into an envelope stamped with at.
func Marshal(e Event, at time.Time) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:      e.EventName(),
		Data:       data,
		Timestamp:  at.Unix(),
		OccurredAt: at.UTC(),
	})
}

// Unmarshal decodes an envelope back into a typed event.
func Unmarshal(b []byte) (Event, time.Time, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, time.Time{}, err
	}
	var (
		e   Event
		err error
	)
	switch env.Event {
	case NameProgressWarningIssued:
		var v ProgressWarningIssued
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameLeadProtectionExpired:
		var v LeadProtectionExpired
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameLeadsPseudonymized:
		var v LeadsPseudonymized
		err = json.Unmarshal(env.Data, &v)
		e = v
	case NameImportJobsArchived:
		var v ImportJobsArchived
		err = json.Unmarshal(env.Data, &v)
		e = v
	default:
		return nil, time.Time{}, &UnknownEventError{Name: env.Event}
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return e, env.OccurredAt, nil
}

// UnknownEventError is returned by Unmarshal for unrecognized event names.
type UnknownEventError struct {
	Name string
}

func (e *UnknownEventError) Error() string {
	return "unknown event " + e.Name
}
