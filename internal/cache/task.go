// Package cache holds the local task snapshot: every known task plus the
// client-only attributes (display order, sync markers) the remote service
// never sees.
package cache

import (
	"errors"
	"time"
)

// ErrUnknownTask is returned when an intent references a task the store does
// not hold.
var ErrUnknownTask = errors.New("unknown task")

// ErrCorruptSnapshot is returned by Load when the persisted snapshot cannot be
// read. The store returned alongside it is empty and usable.
var ErrCorruptSnapshot = errors.New("corrupt task snapshot")

// SyncState is a local-only marker describing whether the task's local state
// has been confirmed by the remote service.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
	SyncFailed  SyncState = "failed"
)

// Task is a cached task.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Due         string     `json:"due,omitempty"`

	// LocalOrder is client-only and never transmitted.
	LocalOrder int64 `json:"localOrder"`

	// Revision is bumped on every local or remote change to the task's data.
	// Sync markers and LocalOrder do not bump it.
	Revision uint64 `json:"revision"`

	SyncState SyncState `json:"syncState,omitempty"`
}

// SyncFailed reports whether the task should carry a "sync failed" marker.
func (t Task) SyncFailed() bool {
	return t.SyncState == SyncFailed
}

func less(a, b Task) bool {
	if a.LocalOrder != b.LocalOrder {
		return a.LocalOrder < b.LocalOrder
	}
	return a.ID < b.ID
}
