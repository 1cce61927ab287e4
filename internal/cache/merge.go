package cache

import (
	"time"

	log "github.com/sirupsen/logrus"

	"gtodo/internal/remote"
)

// RemoteBatch is the result of one authoritative fetch.
type RemoteBatch struct {
	Tasks []remote.Task

	// AsOf is the store revision observed when the fetch started. Tasks
	// changed locally after that point keep their local completion state.
	AsOf uint64

	// Holds lists tasks with unresolved (or just-confirmed) local intent.
	// Their local completion state wins over the fetched one, and they are
	// kept even when missing from the fetch.
	Holds map[string]bool

	// FetchedAt stamps completed records that carry no completion time.
	FetchedAt time.Time
}

// MergeResult summarises an UpsertFromRemote call.
type MergeResult struct {
	Added     int
	Updated   int
	Removed   int
	Conflicts int // fetched completion state overridden by local intent
}

// Changed reports whether the merge altered the store.
func (r MergeResult) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// UpsertFromRemote merges a fetch into the store. Remote state is
// authoritative except for LocalOrder of known tasks, which is never
// overwritten, and the completion state of held or locally newer tasks.
func (s *Store) UpsertFromRemote(batch RemoteBatch) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fetchedAt := batch.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	var res MergeResult
	dirty := false
	rev := s.rev
	maxOrder := s.maxOrderLocked()
	next := make(map[string]Task, len(batch.Tasks))
	seen := make(map[string]bool, len(batch.Tasks))

	for _, rt := range batch.Tasks {
		if rt.ID == "" || seen[rt.ID] {
			continue
		}
		seen[rt.ID] = true
		completedAt := normalizeCompletedAt(rt, fetchedAt)

		cur, known := s.tasks[rt.ID]
		if !known {
			rev++
			maxOrder += orderGap
			next[rt.ID] = Task{
				ID:          rt.ID,
				Title:       rt.Title,
				Description: rt.Notes,
				Completed:   rt.Completed,
				CompletedAt: completedAt,
				Due:         rt.Due,
				LocalOrder:  maxOrder,
				Revision:    rev,
				SyncState:   SyncSynced,
			}
			res.Added++
			continue
		}

		t := cur
		changed := false
		if t.Title != rt.Title || t.Description != rt.Notes || t.Due != rt.Due {
			t.Title, t.Description, t.Due = rt.Title, rt.Notes, rt.Due
			changed = true
		}

		held := batch.Holds[rt.ID] || cur.Revision > batch.AsOf
		if held {
			if cur.Completed != rt.Completed {
				res.Conflicts++
			}
		} else {
			if rt.Completed && rt.CompletedAt == nil && t.Completed && t.CompletedAt != nil {
				completedAt = t.CompletedAt
			}
			if t.Completed != rt.Completed || !sameTime(t.CompletedAt, completedAt) {
				t.Completed = rt.Completed
				t.CompletedAt = completedAt
				changed = true
			}
			if t.SyncState != SyncSynced {
				t.SyncState = SyncSynced
				dirty = true
			}
		}

		if changed {
			rev++
			t.Revision = rev
			res.Updated++
		}
		next[rt.ID] = t
	}

	for id, cur := range s.tasks {
		if seen[id] {
			continue
		}
		if batch.Holds[id] {
			next[id] = cur
			continue
		}
		res.Removed++
	}

	if !res.Changed() && !dirty {
		return res, nil
	}
	if err := s.commitLocked(next, rev); err != nil {
		return MergeResult{}, err
	}
	s.logger.WithFields(log.Fields{
		"added":     res.Added,
		"updated":   res.Updated,
		"removed":   res.Removed,
		"conflicts": res.Conflicts,
	}).Debug("merged remote tasks")
	return res, nil
}

func (s *Store) maxOrderLocked() int64 {
	var max int64
	first := true
	for _, t := range s.tasks {
		if first || t.LocalOrder > max {
			max = t.LocalOrder
			first = false
		}
	}
	return max
}

func normalizeCompletedAt(rt remote.Task, fetchedAt time.Time) *time.Time {
	if !rt.Completed {
		return nil
	}
	if rt.CompletedAt != nil {
		at := *rt.CompletedAt
		return &at
	}
	at := fetchedAt
	return &at
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
