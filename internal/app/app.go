// Package app wires the task store, the pending log and the sync engine into
// the object every UI entry point works against.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"gtodo/internal/cache"
	"gtodo/internal/config"
	"gtodo/internal/pending"
	"gtodo/internal/remote"
	"gtodo/internal/retry"
	"gtodo/internal/syncer"
)

var (
	// ErrNothingToUndo is returned by Undo when no toggle has been recorded.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrBadRef is returned by ResolveRef for malformed references.
	ErrBadRef = errors.New("invalid task reference")

	// ErrRefOutOfRange is returned by ResolveRef for numbers past the view.
	ErrRefOutOfRange = errors.New("task number out of range")

	// ErrNotLoggedIn is the error of the gateway used when no credentials
	// are stored. Local changes still queue against it.
	ErrNotLoggedIn = errors.New("not logged in (run: gtodo login)")
)

// Options configures Open.
type Options struct {
	TasksPath   string
	PendingPath string
	Gateway     remote.Gateway
	Settings    config.Settings

	Now      func() time.Time
	Location *time.Location
	Logger   *log.Entry
}

// App owns the local state of one process. Open it at start and Close it on
// exit.
type App struct {
	Store  *cache.Store
	Log    *pending.Log
	Engine *syncer.Engine

	logger *log.Entry

	// Warnings collects recoverable problems found while opening.
	Warnings []string

	mu   sync.Mutex
	last *toggle
}

type toggle struct {
	taskID    string
	completed bool // state before the toggle
}

// Open loads persisted state and builds the engine. Corrupt state files are
// reported in Warnings, never as an error.
func Open(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	if opts.Gateway == nil {
		opts.Gateway = remote.Unavailable{Err: ErrNotLoggedIn}
	}
	s := opts.Settings
	a := &App{logger: opts.Logger.WithField("component", "app")}

	store, err := cache.Load(opts.TasksPath, cache.Options{
		Now:      opts.Now,
		Location: opts.Location,
		Logger:   opts.Logger,
	})
	if err != nil {
		if !errors.Is(err, cache.ErrCorruptSnapshot) {
			return nil, err
		}
		a.Warnings = append(a.Warnings, "task cache was unreadable and has been reset")
	}

	policy := retry.DefaultPolicy()
	if s.BackoffBase > 0 {
		policy.Base = s.BackoffBase
	}
	if s.BackoffMax > 0 {
		policy.Max = s.BackoffMax
	}

	actions, err := pending.Load(opts.PendingPath, store, pending.Options{
		Now:         opts.Now,
		Policy:      policy,
		MaxAttempts: s.MaxAttempts,
		Grace:       s.GraceWindow,
		Logger:      opts.Logger,
	})
	if err != nil {
		if !errors.Is(err, pending.ErrCorruptLog) {
			return nil, err
		}
		n, rerr := requeueUnsynced(store, actions, true)
		if rerr != nil {
			return nil, rerr
		}
		a.Warnings = append(a.Warnings, fmt.Sprintf("pending changes log was unreadable; requeued %d unsynced task(s)", n))
	} else {
		// A crash between the store write and the enqueue leaves a pending
		// marker with no action behind it.
		n, rerr := requeueUnsynced(store, actions, false)
		if rerr != nil {
			return nil, rerr
		}
		if n > 0 {
			a.logger.WithField("tasks", n).Warn("requeued local changes missing from the pending log")
		}
	}

	a.Store = store
	a.Log = actions
	a.Engine = syncer.New(store, actions, opts.Gateway, syncer.Options{
		Now:          opts.Now,
		CallTimeout:  s.CallTimeout,
		PullInterval: s.PullInterval,
		PushInterval: s.PushInterval,
		BatchSize:    s.BatchSize,
		Policy:       policy,
		Logger:       opts.Logger,
	})
	return a, nil
}

// OpenConfig opens the state under cfg's data dir.
func OpenConfig(cfg *config.Config, gw remote.Gateway, logger *log.Entry) (*App, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return Open(Options{
		TasksPath:   cfg.TasksPath(),
		PendingPath: cfg.PendingPath(),
		Gateway:     gw,
		Settings:    cfg.Settings,
		Logger:      logger,
	})
}

// requeueUnsynced rebuilds intents for tasks whose local change was never
// confirmed and has no live action. Failed tasks are only requeued when the
// log was lost; otherwise their failure is already on record.
func requeueUnsynced(store *cache.Store, actions *pending.Log, includeFailed bool) (int, error) {
	n := 0
	for _, t := range store.Snapshot(cache.FilterAll) {
		switch t.SyncState {
		case cache.SyncPending:
		case cache.SyncFailed:
			if !includeFailed {
				continue
			}
		default:
			continue
		}
		if _, live := actions.Live(t.ID); live {
			continue
		}
		if _, err := actions.Enqueue(t.ID, pending.KindFor(t.Completed)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close persists the store and the log.
func (a *App) Close() error {
	return errors.Join(a.Store.Flush(), a.Log.Flush())
}

// SetCompleted applies a completion change locally and queues it for the
// remote service. It returns the action id.
func (a *App) SetCompleted(taskID string, completed bool) (string, error) {
	prev, ok := a.Store.Get(taskID)
	if !ok {
		return "", fmt.Errorf("%w: %s", cache.ErrUnknownTask, taskID)
	}
	if err := a.Store.ApplyLocalCompletion(taskID, completed); err != nil {
		return "", err
	}
	actionID, err := a.Log.Enqueue(taskID, pending.KindFor(completed))
	if err != nil {
		return "", fmt.Errorf("queue change: %w", err)
	}

	a.mu.Lock()
	a.last = &toggle{taskID: taskID, completed: prev.Completed}
	a.mu.Unlock()

	a.logger.WithFields(log.Fields{"task": taskID, "completed": completed, "action": actionID}).Debug("local change queued")
	a.Engine.Kick()
	return actionID, nil
}

// Complete marks a task completed.
func (a *App) Complete(taskID string) (string, error) {
	return a.SetCompleted(taskID, true)
}

// Uncomplete reopens a task.
func (a *App) Uncomplete(taskID string) (string, error) {
	return a.SetCompleted(taskID, false)
}

// Toggle flips the completion state and returns the new state.
func (a *App) Toggle(taskID string) (bool, error) {
	t, ok := a.Store.Get(taskID)
	if !ok {
		return false, fmt.Errorf("%w: %s", cache.ErrUnknownTask, taskID)
	}
	_, err := a.SetCompleted(taskID, !t.Completed)
	return !t.Completed, err
}

// Undo reverts the most recent completion change. Only one level is kept.
func (a *App) Undo() (string, error) {
	a.mu.Lock()
	last := a.last
	a.last = nil
	a.mu.Unlock()
	if last == nil {
		return "", ErrNothingToUndo
	}
	if _, err := a.SetCompleted(last.taskID, last.completed); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.last = nil
	a.mu.Unlock()
	return last.taskID, nil
}

// Reorder moves a task within the All view. It is local-only.
func (a *App) Reorder(taskID string, position int) error {
	return a.Store.Reorder(taskID, position)
}

// Snapshot returns the tasks of a view.
func (a *App) Snapshot(filter cache.Filter) []cache.Task {
	return a.Store.Snapshot(filter)
}

// Sync runs one pull and push cycle in the foreground.
func (a *App) Sync(ctx context.Context) error {
	return a.Engine.Cycle(ctx)
}

// Push runs one push round in the foreground.
func (a *App) Push(ctx context.Context) (syncer.PushResult, error) {
	return a.Engine.PushPending(ctx)
}

// Logger returns the app's log entry.
func (a *App) Logger() *log.Entry {
	return a.logger
}

// Run runs the background sync loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Engine.Run(ctx)
}

// Status returns the engine status.
func (a *App) Status() syncer.Status {
	return a.Engine.Status()
}

// Failures lists actions that ran out of attempts.
func (a *App) Failures() []pending.Action {
	return a.Log.Failures()
}

// Retry requeues a failed action, or every failed action when actionID is
// empty, and wakes the push loop. It returns how many were requeued.
func (a *App) Retry(actionID string) (int, error) {
	var n int
	if actionID == "" {
		var err error
		if n, err = a.Log.RetryAll(); err != nil {
			return 0, err
		}
	} else {
		if err := a.Log.Retry(actionID); err != nil {
			return 0, err
		}
		n = 1
	}
	for _, act := range a.Log.List() {
		if act.Status == pending.StatusPending {
			a.resetMarker(act.TaskID)
		}
	}
	a.Engine.Kick()
	return n, nil
}

func (a *App) resetMarker(taskID string) {
	if t, ok := a.Store.Get(taskID); ok && t.SyncFailed() {
		if err := a.Store.SetSyncState(taskID, cache.SyncPending); err != nil {
			a.logger.WithError(err).WithField("task", taskID).Warn("reset sync marker")
		}
	}
}

// ResolveRef finds a task by a user reference: the 1-based number shown for
// filter, or "id:<taskID>".
func (a *App) ResolveRef(filter cache.Filter, ref string) (cache.Task, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := strings.CutPrefix(ref, "id:"); ok {
		t, found := a.Store.Get(id)
		if !found {
			return cache.Task{}, fmt.Errorf("%w: %s", cache.ErrUnknownTask, id)
		}
		return t, nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return cache.Task{}, fmt.Errorf("%w: %s", ErrBadRef, ref)
	}
	view := a.Store.Snapshot(filter)
	if n < 1 || n > len(view) {
		return cache.Task{}, fmt.Errorf("%w: %d", ErrRefOutOfRange, n)
	}
	return view[n-1], nil
}
