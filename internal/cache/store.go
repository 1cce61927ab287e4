package cache

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"gtodo/internal/persist"
)

const (
	// SchemaVersion is the version of the persisted snapshot layout.
	SchemaVersion = 1

	snapshotKind = "task-snapshot"

	// orderGap is the spacing between LocalOrder values assigned to new tasks.
	orderGap = 1024

	viewCacheSize = 32
)

// Options configures a Store.
type Options struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Location is used for the "today" filters. Defaults to time.Local.
	Location *time.Location

	Logger *log.Entry
}

// Store is the in-memory and persisted set of known tasks.
//
// Writers serialize on mu and persist the full store before publishing.
// Readers never take mu: Snapshot works on the last published immutable
// ordering.
type Store struct {
	path   string
	now    func() time.Time
	loc    *time.Location
	logger *log.Entry

	mu    sync.Mutex
	tasks map[string]Task
	rev   uint64

	published atomic.Pointer[snapshot]
	views     *lru.Cache[viewKey, []Task]
}

type snapshot struct {
	gen     uint64
	rev     uint64
	ordered []Task
	index   map[string]int
}

type persisted struct {
	Revision uint64 `json:"revision"`
	Tasks    []Task `json:"tasks"`
}

// New returns an empty store persisted at path. An empty path keeps the store
// in memory only.
func New(path string, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	views, _ := lru.New[viewKey, []Task](viewCacheSize)
	s := &Store{
		path:   path,
		now:    opts.Now,
		loc:    opts.Location,
		logger: opts.Logger.WithField("component", "cache"),
		tasks:  make(map[string]Task),
		views:  views,
	}
	s.publishLocked()
	return s
}

// Load reads the snapshot at path. A missing file yields an empty store. An
// unreadable or foreign-version file is quarantined and yields an empty store
// together with ErrCorruptSnapshot; startup never has to fail because of it.
func Load(path string, opts Options) (*Store, error) {
	s := New(path, opts)
	if path == "" {
		return s, nil
	}

	var rec persisted
	err := persist.Read(path, snapshotKind, SchemaVersion, &rec)
	switch {
	case err == nil:
	case errors.Is(err, persist.ErrNotExist):
		return s, nil
	default:
		entry := s.logger.WithError(err).WithField("path", path)
		if dest, qerr := persist.Quarantine(path, s.now()); qerr == nil {
			entry = entry.WithField("quarantined", dest)
		}
		entry.Warn("task snapshot unreadable, starting empty")
		return s, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range rec.Tasks {
		if t.ID == "" {
			continue
		}
		if t.Completed && t.CompletedAt == nil {
			now := s.now()
			t.CompletedAt = &now
		}
		if !t.Completed {
			t.CompletedAt = nil
		}
		if t.Revision > rec.Revision {
			rec.Revision = t.Revision
		}
		s.tasks[t.ID] = t
	}
	s.rev = rec.Revision
	s.publishLocked()
	s.logger.WithField("tasks", len(s.tasks)).Debug("task snapshot loaded")
	return s, nil
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Revision returns the highest revision assigned so far.
func (s *Store) Revision() uint64 {
	return s.published.Load().rev
}

// Len returns the number of known tasks.
func (s *Store) Len() int {
	return len(s.published.Load().ordered)
}

// Has reports whether taskID is known.
func (s *Store) Has(taskID string) bool {
	_, ok := s.Get(taskID)
	return ok
}

// Get returns a copy of the task.
func (s *Store) Get(taskID string) (Task, bool) {
	snap := s.published.Load()
	i, ok := snap.index[taskID]
	if !ok {
		return Task{}, false
	}
	return snap.ordered[i], true
}

// ApplyLocalCompletion optimistically sets the completion state of a task.
func (s *Store) ApplyLocalCompletion(taskID string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	next := maps.Clone(s.tasks)
	rev := s.rev + 1

	if completed {
		if !t.Completed || t.CompletedAt == nil {
			now := s.now()
			t.CompletedAt = &now
		}
	} else {
		t.CompletedAt = nil
	}
	t.Completed = completed
	t.Revision = rev
	t.SyncState = SyncPending
	next[taskID] = t

	return s.commitLocked(next, rev)
}

// SetSyncState updates the local sync marker of a task. Markers are not task
// data and do not bump the revision.
func (s *Store) SetSyncState(taskID string, state SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if t.SyncState == state {
		return nil
	}
	next := maps.Clone(s.tasks)
	t.SyncState = state
	next[taskID] = t
	return s.commitLocked(next, s.rev)
}

// Flush persists the current state. Used on shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(s.tasks, s.rev)
}

// commitLocked persists next and, on success, makes it current.
func (s *Store) commitLocked(next map[string]Task, rev uint64) error {
	if err := s.writeLocked(next, rev); err != nil {
		return fmt.Errorf("persist task snapshot: %w", err)
	}
	s.tasks = next
	s.rev = rev
	s.publishLocked()
	return nil
}

func (s *Store) writeLocked(tasks map[string]Task, rev uint64) error {
	if s.path == "" {
		return nil
	}
	rec := persisted{Revision: rev, Tasks: sortedTasks(tasks)}
	return persist.Write(s.path, snapshotKind, SchemaVersion, rec)
}

func (s *Store) publishLocked() {
	var gen uint64
	if prev := s.published.Load(); prev != nil {
		gen = prev.gen + 1
	}
	ordered := sortedTasks(s.tasks)
	index := make(map[string]int, len(ordered))
	for i, t := range ordered {
		index[t.ID] = i
	}
	s.published.Store(&snapshot{gen: gen, rev: s.rev, ordered: ordered, index: index})
}

func sortedTasks(tasks map[string]Task) []Task {
	out := slices.Collect(maps.Values(tasks))
	slices.SortFunc(out, func(a, b Task) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}
