// Package jobregistry runs cancellable background jobs and fans their
// lifecycle events out to any number of observers.
//
// A job is created with a TaskFunc, runs in its own goroutine and reports
// progress through Hooks. Once it reaches a terminal state (complete,
// failed or cancelled) its status is frozen and, after a cleanup delay,
// the job is retired from the registry.
package jobregistry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned for ids the registry does not know (never
	// created, or already cleaned up).
	ErrJobNotFound = errors.New("job not found")

	// ErrRegistryClosed is returned when creating a job after Close.
	ErrRegistryClosed = errors.New("job registry is closed")

	// ErrTaskIncomplete marks a task that returned without reporting a
	// terminal outcome.
	ErrTaskIncomplete = errors.New("task returned without reporting completion")
)

// CancelledMessage is the message stored on a cancelled job.
const CancelledMessage = "Job was cancelled."

// Status is the lifecycle state of a job.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// EventType names a lifecycle event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventCancel   EventType = "cancel"
	EventCleanup  EventType = "cleanup"
)

// Terminal reports whether the event announces a terminal state.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventCancel
}

// EndsStream reports whether an observer should stop after this event.
func (t EventType) EndsStream() bool {
	return t.Terminal() || t == EventCleanup
}

// Event is one lifecycle notification for a job.
type Event struct {
	Type     EventType
	JobID    string
	Status   Status
	Progress int
	Stats    any
	Message  string
	Time     time.Time
}

type progressPayload struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
}

type completePayload struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Stats    any    `json:"stats"`
}

type messagePayload struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Payload returns the wire body of the event:
//
//	progress {status, progress}
//	complete {status, progress, stats}
//	error    {status, progress, message}
//	cancel   {status, progress, message}
//	cleanup  {}
func (e Event) Payload() any {
	switch e.Type {
	case EventProgress:
		return progressPayload{Status: e.Status, Progress: e.Progress}
	case EventComplete:
		return completePayload{Status: e.Status, Progress: e.Progress, Stats: e.Stats}
	case EventError, EventCancel:
		return messagePayload{Status: e.Status, Progress: e.Progress, Message: e.Message}
	default:
		return struct{}{}
	}
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Stats     any        `json:"stats,omitempty"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ProgressEvent describes the snapshot as a progress event.
func (s Snapshot) ProgressEvent() Event {
	return Event{Type: EventProgress, JobID: s.ID, Status: s.Status, Progress: s.Progress, Time: time.Now().UTC()}
}

// TerminalEvent returns the event matching a terminal snapshot. ok is false
// while the job is still in progress.
func (s Snapshot) TerminalEvent() (ev Event, ok bool) {
	ev = Event{JobID: s.ID, Status: s.Status, Progress: s.Progress, Time: time.Now().UTC()}
	switch s.Status {
	case StatusComplete:
		ev.Type = EventComplete
		ev.Stats = s.Stats
	case StatusFailed:
		ev.Type = EventError
		ev.Message = s.Message
	case StatusCancelled:
		ev.Type = EventCancel
		ev.Message = s.Message
	default:
		return Event{}, false
	}
	return ev, true
}

// TaskFunc is the body of a job. Arguments are captured by the closure.
//
// The task should poll ctx (or hooks.Context()) at safe points and return
// promptly once it is done. Returning an error, or panicking, fails the job.
// A task must report its outcome through hooks.Complete or hooks.Fail; a nil
// return with no report fails the job with ErrTaskIncomplete.
type TaskFunc func(ctx context.Context, hooks *Hooks) error

// Hooks is the task's handle on its own job.
type Hooks struct {
	reg *Registry
	id  string
	ctx context.Context
}

// JobID returns the id of the job running the task.
func (h *Hooks) JobID() string { return h.id }

// Context returns the job's cancellation token.
func (h *Hooks) Context() context.Context { return h.ctx }

// Cancelled reports whether the job has been asked to stop.
func (h *Hooks) Cancelled() bool { return h.ctx.Err() != nil }

// Progress reports percent completion (clamped to 0..100).
func (h *Hooks) Progress(percent int) { h.reg.ReportProgress(h.id, percent) }

// Complete marks the job complete with stats.
func (h *Hooks) Complete(stats any) { h.reg.ReportComplete(h.id, stats) }

// Fail marks the job failed.
func (h *Hooks) Fail(err error) { h.reg.ReportFailure(h.id, err) }
