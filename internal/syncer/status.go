package syncer

import (
	"fmt"
	"time"
)

// Phase is the step of the reconciliation cycle the engine is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseMerging
	PhasePushing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseMerging:
		return "merging"
	case PhasePushing:
		return "pushing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Connectivity summarises the engine's view of the remote service.
type Connectivity string

const (
	Online  Connectivity = "online"
	Offline Connectivity = "offline"
	Syncing Connectivity = "syncing"
	Error   Connectivity = "error"
)

// Status is a point-in-time view of the engine.
type Status struct {
	Phase        Phase
	Connectivity Connectivity
	LastPull     time.Time
	LastPush     time.Time
	NextPull     time.Time
	LastError    string
	Pending      int
	Failed       int
}

// NoticeKind classifies a user-facing sync notice.
type NoticeKind string

const (
	// NoticeRejected means the service definitively refused an action.
	NoticeRejected NoticeKind = "rejected"
	// NoticeExhausted means an action ran out of attempts.
	NoticeExhausted NoticeKind = "exhausted"
)

// Notice reports a persistent sync failure for one task.
type Notice struct {
	Kind     NoticeKind
	TaskID   string
	ActionID string
	Err      error
	At       time.Time
}

func (n Notice) String() string {
	switch n.Kind {
	case NoticeRejected:
		return fmt.Sprintf("task %s: change rejected by server: %v", n.TaskID, n.Err)
	case NoticeExhausted:
		return fmt.Sprintf("task %s: sync failed, giving up after repeated errors: %v", n.TaskID, n.Err)
	}
	return fmt.Sprintf("task %s: %v", n.TaskID, n.Err)
}
