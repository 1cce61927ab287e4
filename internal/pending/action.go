// Package pending is the durable log of local intents that still have to be
// pushed to the remote service.
package pending

import (
	"errors"
	"fmt"
	"time"

	"gtodo/internal/cache"
)

var (
	// ErrUnknownTask is returned by Enqueue for a task the store does not hold.
	ErrUnknownTask = cache.ErrUnknownTask

	// ErrLocalOnly is returned by Enqueue for kinds that never reach the
	// remote service.
	ErrLocalOnly = errors.New("action kind is local-only")

	// ErrUnknownAction is returned when an action id is not in the log.
	ErrUnknownAction = errors.New("unknown action")

	// ErrNotRetryable is returned by Retry for actions that are not failed.
	ErrNotRetryable = errors.New("action is not failed")

	// ErrCorruptLog is returned by Load when the persisted log cannot be
	// read. The log returned alongside it is empty and usable.
	ErrCorruptLog = errors.New("corrupt pending log")
)

// Kind is the type of a queued intent.
type Kind string

const (
	KindComplete   Kind = "complete"
	KindUncomplete Kind = "uncomplete"
	// KindReorder exists so callers can express the intent; Enqueue refuses it
	// because ordering has no remote representation.
	KindReorder Kind = "reorder"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindComplete, KindUncomplete, KindReorder:
		return k, nil
	}
	return "", fmt.Errorf("unknown action kind: %q", s)
}

// KindFor returns the kind that drives a task to the given completion state.
func KindFor(completed bool) Kind {
	if completed {
		return KindComplete
	}
	return KindUncomplete
}

// Status is the lifecycle state of an action. It only moves forward:
// pending, inflight, then confirmed or failed, and failed goes back to pending
// once its backoff window has elapsed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "inflight"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Action is one queued intent.
type Action struct {
	ActionID      string    `json:"actionId"`
	TaskID        string    `json:"taskId"`
	Kind          Kind      `json:"kind"`
	CreatedAt     time.Time `json:"createdAt"`
	AttemptCount  int       `json:"attemptCount"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`
	Status        Status    `json:"status"`

	NextAttemptAt time.Time `json:"nextAttemptAt,omitzero"`
	ConfirmedAt   time.Time `json:"confirmedAt,omitzero"`
	LastError     string    `json:"lastError,omitempty"`

	// Void marks a confirmed action that was never applied remotely: it was
	// superseded by a newer intent or rejected by the service.
	Void bool `json:"void,omitempty"`

	// Exhausted marks a failed action whose attempt budget is spent. It stays
	// in the log until the user retries it or a newer intent supersedes it.
	Exhausted bool `json:"exhausted,omitempty"`
}

// Live reports whether the action still represents unresolved intent.
func (a Action) Live() bool {
	return a.Status != StatusConfirmed
}

// Completed reports the completion state the action drives its task to.
func (a Action) Completed() bool {
	return a.Kind == KindComplete
}
