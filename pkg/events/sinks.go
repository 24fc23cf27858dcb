package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jordanlanch/leadguard/pkg/logger"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink that logs events at info level.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish logs the event.
func (s *LogSink) Publish(_ context.Context, e Event) error {
	args := []any{"event", e.EventName()}
	switch ev := e.(type) {
	case ProgressWarningIssued:
		args = append(args, "lead_id", ev.LeadID, "progress_deadline", ev.ProgressDeadline)
		if ev.AssignedTo != nil {
			args = append(args, "assigned_to", *ev.AssignedTo)
		}
	case LeadProtectionExpired:
		args = append(args, "lead_id", ev.LeadID)
		if ev.PreviouslyAssignedTo != nil {
			args = append(args, "previously_assigned_to", *ev.PreviouslyAssignedTo)
		}
	case LeadsPseudonymized:
		args = append(args, "count", ev.Count)
	case ImportJobsArchived:
		args = append(args, "count", ev.Count)
	}
	s.log.Info("lifecycle event", args...)
	return nil
}

// NamedSink pairs a sink with a label used in logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// SinkError records which sink failed.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

// FailureRecorder is notified when a sink fails.
type FailureRecorder interface {
	RecordSinkFailure(sink string)
}

// Multi fans an event out to several sinks. Every sink is attempted; the
// failures are joined into the returned error.
type Multi struct {
	sinks    []NamedSink
	recorder FailureRecorder
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...NamedSink) *Multi {
	return &Multi{sinks: sinks}
}

// WithFailureRecorder registers r to count failures per sink.
func (m *Multi) WithFailureRecorder(r FailureRecorder) *Multi {
	m.recorder = r
	return m
}

// Add appends a sink.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, NamedSink{Name: name, Sink: s})
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Publish delivers e to every sink concurrently and waits for all of them.
func (m *Multi) Publish(ctx context.Context, e Event) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, ns := range m.sinks {
		g.Go(func() error {
			if err := ns.Sink.Publish(ctx, e); err != nil {
				if m.recorder != nil {
					m.recorder.RecordSinkFailure(ns.Name)
				}
				errs[i] = &SinkError{Sink: ns.Name, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Async decouples publishers from slow transports. Events are queued on a
// bounded buffer and delivered by one background worker; when the buffer is
// full the event is dropped and ErrBufferFull returned.
type Async struct {
	next   Sink
	log    logger.Logger
	queue  chan Event
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

var (
	// ErrBufferFull is returned when the async queue cannot take another event.
	ErrBufferFull = errors.New("event buffer full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("event sink closed")
)

// NewAsync starts the delivery worker.
func NewAsync(next Sink, buffer int, log logger.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:  next,
		log:   log,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues e without waiting for delivery.
func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		if err := a.next.Publish(context.Background(), e); err != nil {
			a.log.Warn("event delivery failed", "event", e.EventName(), "error", err)
		}
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
