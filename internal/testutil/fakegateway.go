// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"gtodo/internal/remote"
)

// Call records one remote call made against a FakeGateway.
type Call struct {
	Op       string // "fetch", "complete" or "uncomplete"
	TaskID   string
	ActionID string
}

// FetchResult is a scripted response for FetchTasks.
type FetchResult struct {
	Tasks []remote.Task
	Err   error
}

// FakeGateway is an in-memory implementation of remote.Gateway for testing.
// It applies each action id at most once, like a server honouring
// idempotency keys.
type FakeGateway struct {
	mu      sync.Mutex
	tasks   []remote.Task
	applied map[string]bool
	calls   []Call

	// Duplicates counts calls that reused an already applied action id.
	Duplicates int

	// Error injection for testing. Scripted errors are consumed one per call
	// before the call touches the fake's state.
	FetchErr   error
	FetchQueue []FetchResult
	PushErrs   []error

	// LostAcks makes the next N successful pushes report a timeout after
	// applying the change, like a response lost on the way back.
	LostAcks int

	// Block, when set, makes pushes wait for ctx to end or the channel to
	// close.
	Block chan struct{}

	// Now stamps completions. Defaults to time.Now.
	Now func() time.Time
}

// NewFakeGateway creates a FakeGateway holding tasks.
func NewFakeGateway(tasks ...remote.Task) *FakeGateway {
	return &FakeGateway{
		tasks:   slices.Clone(tasks),
		applied: make(map[string]bool),
	}
}

// AddTask adds a task to the fake server.
func (f *FakeGateway) AddTask(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, remote.Task{ID: id, Title: title})
}

// DeleteTask removes a task from the fake server.
func (f *FakeGateway) DeleteTask(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = slices.DeleteFunc(f.tasks, func(t remote.Task) bool { return t.ID == id })
}

// Task returns the server-side copy of a task.
func (f *FakeGateway) Task(id string) (remote.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexLocked(id); i >= 0 {
		return f.tasks[i], true
	}
	return remote.Task{}, false
}

// Calls returns the recorded calls.
func (f *FakeGateway) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns how many calls of op were made.
func (f *FakeGateway) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Applied reports whether the change carried by actionID reached the server.
func (f *FakeGateway) Applied(actionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[actionID]
}

// FetchTasks implements remote.Gateway.
func (f *FakeGateway) FetchTasks(ctx context.Context) ([]remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "fetch"})

	if len(f.FetchQueue) > 0 {
		next := f.FetchQueue[0]
		f.FetchQueue = f.FetchQueue[1:]
		return slices.Clone(next.Tasks), next.Err
	}
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return slices.Clone(f.tasks), nil
}

// CompleteTask implements remote.Gateway.
func (f *FakeGateway) CompleteTask(ctx context.Context, taskID, actionID string) error {
	return f.push(ctx, "complete", taskID, actionID, true)
}

// UncompleteTask implements remote.Gateway.
func (f *FakeGateway) UncompleteTask(ctx context.Context, taskID, actionID string) error {
	return f.push(ctx, "uncomplete", taskID, actionID, false)
}

func (f *FakeGateway) push(ctx context.Context, op, taskID, actionID string, completed bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, TaskID: taskID, ActionID: actionID})
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return &remote.NetworkError{Op: op, Err: ctx.Err()}
		case <-block:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.PushErrs) > 0 {
		err := f.PushErrs[0]
		f.PushErrs = f.PushErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.applied[actionID] {
		f.Duplicates++
		return nil
	}

	i := f.indexLocked(taskID)
	if i < 0 {
		return &remote.RejectedError{Op: op, Reason: remote.ReasonNotFound, StatusCode: 404}
	}
	t := &f.tasks[i]
	if t.Completed == completed {
		f.applied[actionID] = true
		return remote.ErrAlreadyInState
	}
	t.Completed = completed
	if completed {
		now := time.Now()
		if f.Now != nil {
			now = f.Now()
		}
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	f.applied[actionID] = true

	if f.LostAcks > 0 {
		f.LostAcks--
		return &remote.NetworkError{Op: op, Err: context.DeadlineExceeded}
	}
	return nil
}

func (f *FakeGateway) indexLocked(id string) int {
	return slices.IndexFunc(f.tasks, func(t remote.Task) bool { return t.ID == id })
}
