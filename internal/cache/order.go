package cache

import (
	"fmt"
	"maps"
)

// Reorder moves a task to newPosition (0-based) in the All view. Only the
// moved task and the shortest run of following tasks needed to keep LocalOrder
// strictly increasing are rewritten. Reordering is local-only and leaves
// Revision alone, so it never makes a merge hold a task's completion state.
func (s *Store) Reorder(taskID string, newPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.published.Load().ordered
	from := -1
	rest := make([]Task, 0, len(ordered))
	for i, t := range ordered {
		if t.ID == taskID {
			from = i
			continue
		}
		rest = append(rest, t)
	}
	if from < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	to := min(max(newPosition, 0), len(rest))
	if to == from || len(rest) == 0 {
		return nil
	}

	next := maps.Clone(s.tasks)
	moved := s.tasks[taskID]

	switch {
	case to == 0:
		moved.LocalOrder = rest[0].LocalOrder - orderGap
	case to == len(rest):
		moved.LocalOrder = rest[len(rest)-1].LocalOrder + orderGap
	default:
		prev, after := rest[to-1].LocalOrder, rest[to].LocalOrder
		if after-prev >= 2 {
			moved.LocalOrder = prev + (after-prev)/2
			break
		}
		// No room: push the following run forward until a gap absorbs it.
		moved.LocalOrder = prev + 1
		last := moved.LocalOrder
		for _, t := range rest[to:] {
			if t.LocalOrder > last {
				break
			}
			last++
			t.LocalOrder = last
			next[t.ID] = t
		}
	}

	next[taskID] = moved

	return s.commitLocked(next, s.rev)
}
