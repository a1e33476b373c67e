// Package progress tracks long running operations, such as transcode jobs and
// maintenance runs, and fans their progress out to subscribers.
package progress

import (
	"maps"
	"time"
)

// State is the lifecycle state of an operation.
type State string

const (
	// StatePending indicates the operation is being prepared.
	StatePending State = "pending"
	// StateRunning indicates the operation is making progress.
	StateRunning State = "running"
	// StatePaused indicates the operation is temporarily held back.
	StatePaused State = "paused"
	// StateCompleted indicates the operation completed successfully.
	StateCompleted State = "completed"
	// StateFailed indicates the operation failed with an error.
	StateFailed State = "failed"
	// StateCancelled indicates the operation was cancelled.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsActive returns true if the operation has not finished.
func (s State) IsActive() bool {
	return s != "" && !s.IsTerminal()
}

// OperationType identifies the kind of operation being tracked.
type OperationType string

const (
	// OpTranscode is an encoder run.
	OpTranscode OperationType = "transcode"
	// OpMaintenance is a cleanup or archiving run.
	OpMaintenance OperationType = "maintenance"
)

// Operation is the progress of one operation.
type Operation struct {
	// ID is a ULID assigned when the operation starts.
	ID   string        `json:"id"`
	Type OperationType `json:"type"`
	// OwnerID identifies what the operation works on, such as a transcode job id.
	OwnerID string `json:"owner_id"`
	State   State  `json:"state"`
	// Percent is the completion percentage, 0 to 100.
	Percent     float64        `json:"percent"`
	Message     string         `json:"message,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand to other goroutines.
func (o *Operation) Clone() *Operation {
	clone := *o
	if o.Metadata != nil {
		clone.Metadata = maps.Clone(o.Metadata)
	}
	return &clone
}

// Event is sent to subscribers when an operation changes.
type Event struct {
	EventType string     `json:"event_type"`
	Operation *Operation `json:"operation"`
	Timestamp time.Time  `json:"timestamp"`
}

// Event types.
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeFailed    = "failed"
	EventTypeCancelled = "cancelled"
)

func eventTypeForState(state State) string {
	switch state {
	case StateCompleted:
		return EventTypeCompleted
	case StateFailed:
		return EventTypeFailed
	case StateCancelled:
		return EventTypeCancelled
	default:
		return EventTypeProgress
	}
}

// Filter selects operations. Nil fields match everything.
type Filter struct {
	Type       *OperationType `json:"type,omitempty"`
	OwnerID    *string        `json:"owner_id,omitempty"`
	State      *State         `json:"state,omitempty"`
	ActiveOnly bool           `json:"active_only,omitempty"`
}

// Matches reports whether op passes the filter.
func (f *Filter) Matches(op *Operation) bool {
	if f == nil {
		return true
	}
	if f.Type != nil && *f.Type != op.Type {
		return false
	}
	if f.OwnerID != nil && *f.OwnerID != op.OwnerID {
		return false
	}
	if f.State != nil && *f.State != op.State {
		return false
	}
	if f.ActiveOnly && !op.State.IsActive() {
		return false
	}
	return true
}
