// Package remote defines the backend-agnostic contract the sync engine uses to
// talk to the task service.
package remote

import "context"

// Gateway defines the remote operations the sync engine needs.
// All network calls go through this interface; the cache and the pending log
// never import a backend SDK directly.
type Gateway interface {
	// FetchTasks returns the authoritative working set: every open task plus
	// tasks completed since local midnight. A task missing from the result is
	// treated as deleted remotely.
	FetchTasks(ctx context.Context) ([]Task, error)

	// CompleteTask marks a task completed. actionID is the idempotency token;
	// a retried call with the same actionID must not be applied twice.
	// Returns ErrAlreadyInState when the task was already completed.
	CompleteTask(ctx context.Context, taskID, actionID string) error

	// UncompleteTask reopens a completed task. Symmetric to CompleteTask.
	UncompleteTask(ctx context.Context, taskID, actionID string) error
}

// Unavailable is a Gateway whose every call fails with Err. It lets the
// client work offline when no backend can be built, e.g. before login.
type Unavailable struct {
	Err error
}

func (u Unavailable) FetchTasks(context.Context) ([]Task, error) { return nil, u.Err }

func (u Unavailable) CompleteTask(context.Context, string, string) error { return u.Err }

func (u Unavailable) UncompleteTask(context.Context, string, string) error { return u.Err }
