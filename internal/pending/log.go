package pending

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gtodo/internal/persist"
	"gtodo/internal/retry"
)

const (
	// SchemaVersion is the version of the persisted log layout.
	SchemaVersion = 1

	logKind = "pending-log"

	DefaultMaxAttempts = 10
	DefaultGrace       = 2 * time.Minute
)

// TaskValidator reports whether a task exists. *cache.Store satisfies it.
type TaskValidator interface {
	Has(taskID string) bool
}

// Options configures a Log.
type Options struct {
	Now         func() time.Time
	Policy      retry.Policy
	MaxAttempts int

	// Grace is how long confirmed actions are kept. While kept they still win
	// merges against fetches that may predate the remote write.
	Grace time.Duration

	// NewID generates action ids. Defaults to random UUIDs.
	NewID func() string

	Logger *log.Entry
}

// Log is the durable pending-action log.
type Log struct {
	path        string
	tasks       TaskValidator
	now         func() time.Time
	policy      retry.Policy
	maxAttempts int
	grace       time.Duration
	newID       func() string
	logger      *log.Entry

	mu      sync.Mutex
	actions []Action
}

type persisted struct {
	Actions []Action `json:"actions"`
}

// New returns an empty log persisted at path. An empty path keeps the log in
// memory only.
func New(path string, tasks TaskValidator, opts Options) *Log {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.Base <= 0 && opts.Policy.Max <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Log{
		path:        path,
		tasks:       tasks,
		now:         opts.Now,
		policy:      opts.Policy,
		maxAttempts: opts.MaxAttempts,
		grace:       opts.Grace,
		newID:       opts.NewID,
		logger:      opts.Logger.WithField("component", "pending"),
	}
}

// Load reads the log at path. Actions left in flight by a previous process
// go back to pending: the round that dequeued them was abandoned, and
// resubmitting is safe because the action id is the idempotency token.
func Load(path string, tasks TaskValidator, opts Options) (*Log, error) {
	l := New(path, tasks, opts)
	if path == "" {
		return l, nil
	}

	var rec persisted
	err := persist.Read(path, logKind, SchemaVersion, &rec)
	switch {
	case err == nil:
	case errors.Is(err, persist.ErrNotExist):
		return l, nil
	default:
		entry := l.logger.WithError(err).WithField("path", path)
		if dest, qerr := persist.Quarantine(path, l.now()); qerr == nil {
			entry = entry.WithField("quarantined", dest)
		}
		entry.Warn("pending log unreadable, starting empty")
		return l, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}

	recovered := 0
	for i := range rec.Actions {
		if rec.Actions[i].Status == StatusInFlight {
			rec.Actions[i].Status = StatusPending
			recovered++
		}
	}
	l.actions = rec.Actions
	if recovered > 0 {
		l.logger.WithField("actions", recovered).Info("requeued actions from an interrupted push")
	}
	return l, nil
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Enqueue records a new intent for taskID and returns its action id. Any live
// action for the same task is superseded: marked confirmed and void, never
// reused.
func (l *Log) Enqueue(taskID string, kind Kind) (string, error) {
	switch kind {
	case KindComplete, KindUncomplete:
	case KindReorder:
		return "", fmt.Errorf("%w: %s", ErrLocalOnly, kind)
	default:
		return "", fmt.Errorf("unknown action kind: %q", kind)
	}
	if l.tasks != nil && !l.tasks.Has(taskID) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := slices.Clone(l.actions)
	for i := range next {
		a := &next[i]
		if a.TaskID != taskID || !a.Live() {
			continue
		}
		a.Status = StatusConfirmed
		a.Void = true
		a.Exhausted = false
		a.ConfirmedAt = now
		a.LastError = "superseded"
		l.logger.WithFields(log.Fields{"action": a.ActionID, "task": taskID}).Debug("superseded action")
	}

	a := Action{
		ActionID:  l.newID(),
		TaskID:    taskID,
		Kind:      kind,
		CreatedAt: now,
		Status:    StatusPending,
	}
	next = append(next, a)
	if err := l.commitLocked(next); err != nil {
		return "", err
	}
	return a.ActionID, nil
}

// NextBatch promotes failed actions whose backoff window has elapsed, then
// returns up to max pending actions oldest first and marks them in flight.
// The transition is persisted before returning, so no other caller can
// dequeue the same actions. max <= 0 means no limit.
func (l *Log) NextBatch(max int) ([]Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := slices.Clone(l.actions)
	changed := false
	for i := range next {
		a := &next[i]
		if a.Status == StatusFailed && !a.Exhausted && !a.NextAttemptAt.After(now) {
			a.Status = StatusPending
			changed = true
		}
	}

	var picked []int
	for i, a := range next {
		if a.Status == StatusPending {
			picked = append(picked, i)
		}
	}
	slices.SortStableFunc(picked, func(x, y int) int {
		return next[x].CreatedAt.Compare(next[y].CreatedAt)
	})
	if max > 0 && len(picked) > max {
		picked = picked[:max]
	}

	batch := make([]Action, 0, len(picked))
	for _, i := range picked {
		a := &next[i]
		a.Status = StatusInFlight
		a.AttemptCount++
		a.LastAttemptAt = now
		a.NextAttemptAt = time.Time{}
		batch = append(batch, *a)
		changed = true
	}
	if !changed {
		return nil, nil
	}
	if err := l.commitLocked(next); err != nil {
		return nil, err
	}
	return batch, nil
}

// MarkConfirmed records a successful push. Acks for superseded or already
// confirmed actions are ignored.
func (l *Log) MarkConfirmed(actionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(actionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if l.actions[i].Status == StatusConfirmed {
		return nil
	}
	next := slices.Clone(l.actions)
	a := &next[i]
	a.Status = StatusConfirmed
	a.ConfirmedAt = l.now()
	a.LastError = ""
	a.Exhausted = false
	return l.commitLocked(next)
}

// MarkFailed records a transient failure and schedules the next attempt with
// exponential backoff. Once the attempt budget is spent the action is marked
// exhausted and stays failed until retried explicitly.
func (l *Log) MarkFailed(actionID string, cause error) (Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(actionID)
	if i < 0 {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if l.actions[i].Status == StatusConfirmed {
		return l.actions[i], nil
	}
	next := slices.Clone(l.actions)
	a := &next[i]
	a.Status = StatusFailed
	if cause != nil {
		a.LastError = cause.Error()
	}
	if a.AttemptCount >= l.maxAttempts {
		a.Exhausted = true
		a.NextAttemptAt = time.Time{}
	} else {
		a.NextAttemptAt = l.now().Add(l.policy.Delay(a.AttemptCount))
	}
	if err := l.commitLocked(next); err != nil {
		return Action{}, err
	}
	return *a, nil
}

// MarkVoid resolves an action the remote service definitively rejected.
func (l *Log) MarkVoid(actionID string, cause error) (Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(actionID)
	if i < 0 {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if l.actions[i].Status == StatusConfirmed {
		return l.actions[i], nil
	}
	next := slices.Clone(l.actions)
	a := &next[i]
	a.Status = StatusConfirmed
	a.Void = true
	a.Exhausted = false
	a.ConfirmedAt = l.now()
	if cause != nil {
		a.LastError = cause.Error()
	}
	if err := l.commitLocked(next); err != nil {
		return Action{}, err
	}
	return *a, nil
}

// Retry moves a failed action back to pending with a fresh attempt budget.
func (l *Log) Retry(actionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(actionID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if l.actions[i].Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotRetryable, actionID, l.actions[i].Status)
	}
	next := slices.Clone(l.actions)
	resetForRetry(&next[i])
	return l.commitLocked(next)
}

// RetryAll requeues every failed action and returns how many were requeued.
func (l *Log) RetryAll() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := slices.Clone(l.actions)
	n := 0
	for i := range next {
		if next[i].Status == StatusFailed {
			resetForRetry(&next[i])
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, l.commitLocked(next)
}

func resetForRetry(a *Action) {
	a.Status = StatusPending
	a.Exhausted = false
	a.AttemptCount = 0
	a.NextAttemptAt = time.Time{}
}

// Holds returns the tasks whose local completion state must win over a fetch
// that started at fetchStart: tasks with live intent, and tasks whose intent
// was confirmed recently enough that the fetch may not reflect it yet.
func (l *Log) Holds(fetchStart time.Time) map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds := make(map[string]bool)
	for _, a := range l.actions {
		switch {
		case a.Live():
			holds[a.TaskID] = true
		case !a.Void && a.ConfirmedAt.Add(l.grace).After(fetchStart):
			holds[a.TaskID] = true
		}
	}
	return holds
}

// NextWake returns when the push loop next has work: now if anything is
// pending, otherwise the earliest backoff deadline. ok is false when nothing
// is scheduled.
func (l *Log) NextWake() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var wake time.Time
	for _, a := range l.actions {
		var at time.Time
		switch {
		case a.Status == StatusPending:
			at = l.now()
		case a.Status == StatusFailed && !a.Exhausted:
			at = a.NextAttemptAt
		default:
			continue
		}
		if wake.IsZero() || at.Before(wake) {
			wake = at
		}
	}
	return wake, !wake.IsZero()
}

// Failures returns the actions whose attempt budget is spent.
func (l *Log) Failures() []Action {
	return l.filter(func(a Action) bool { return a.Status == StatusFailed && a.Exhausted })
}

// Live returns the live action for taskID, if any.
func (l *Log) Live(taskID string) (Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.actions {
		if a.TaskID == taskID && a.Live() {
			return a, true
		}
	}
	return Action{}, false
}

// Get returns the action with the given id.
func (l *Log) Get(actionID string) (Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(actionID); i >= 0 {
		return l.actions[i], true
	}
	return Action{}, false
}

// List returns every action still in the log, oldest first.
func (l *Log) List() []Action {
	return l.filter(func(Action) bool { return true })
}

// LiveCount returns the number of unresolved actions.
func (l *Log) LiveCount() int {
	return len(l.filter(Action.Live))
}

// Flush persists the log. Used on shutdown.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitLocked(slices.Clone(l.actions))
}

func (l *Log) filter(keep func(Action) bool) []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Action
	for _, a := range l.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func (l *Log) indexLocked(actionID string) int {
	return slices.IndexFunc(l.actions, func(a Action) bool { return a.ActionID == actionID })
}

// commitLocked compacts next, persists it and makes it current. Confirmed
// actions older than the grace window are dropped.
func (l *Log) commitLocked(next []Action) error {
	cutoff := l.now().Add(-l.grace)
	next = slices.DeleteFunc(next, func(a Action) bool {
		return a.Status == StatusConfirmed && !a.ConfirmedAt.After(cutoff)
	})
	if l.path != "" {
		if err := persist.Write(l.path, logKind, SchemaVersion, persisted{Actions: next}); err != nil {
			return fmt.Errorf("persist pending log: %w", err)
		}
	}
	l.actions = next
	return nil
}
