package cache

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Filter selects a view of the store.
type Filter int

const (
	FilterAll Filter = iota
	FilterTodayActive
	FilterTodayCompleted
	// FilterToday is TodayActive followed by TodayCompleted.
	FilterToday
	// FilterUpcoming holds active tasks due after today or without a due date.
	FilterUpcoming
)

var filterNames = map[Filter]string{
	FilterAll:            "all",
	FilterTodayActive:    "active",
	FilterTodayCompleted: "done",
	FilterToday:          "today",
	FilterUpcoming:       "upcoming",
}

func (f Filter) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// ParseFilter parses a view name as printed by Filter.String.
func ParseFilter(name string) (Filter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range filterNames {
		if n == name {
			return f, nil
		}
	}
	return FilterAll, fmt.Errorf("unknown view: %s", name)
}

type viewKey struct {
	gen    uint64
	filter Filter
	day    string
}

// Snapshot returns a render-ready, ordered copy of the tasks matching filter.
// It never blocks on writers or performs I/O.
func (s *Store) Snapshot(filter Filter) []Task {
	snap := s.published.Load()
	today := s.now().In(s.loc).Format(time.DateOnly)
	key := viewKey{gen: snap.gen, filter: filter, day: today}

	if cached, ok := s.views.Get(key); ok {
		return slices.Clone(cached)
	}

	var out []Task
	switch filter {
	case FilterAll:
		out = slices.Clone(snap.ordered)
	case FilterTodayActive:
		out = s.selectTasks(snap.ordered, func(t Task) bool { return s.activeToday(t, today) })
	case FilterTodayCompleted:
		out = s.selectTasks(snap.ordered, func(t Task) bool { return s.completedToday(t, today) })
	case FilterToday:
		out = s.selectTasks(snap.ordered, func(t Task) bool { return s.activeToday(t, today) })
		out = append(out, s.selectTasks(snap.ordered, func(t Task) bool { return s.completedToday(t, today) })...)
	case FilterUpcoming:
		out = s.selectTasks(snap.ordered, func(t Task) bool { return s.upcoming(t, today) })
	}

	s.views.Add(key, out)
	return slices.Clone(out)
}

func (s *Store) selectTasks(ordered []Task, keep func(Task) bool) []Task {
	out := make([]Task, 0, len(ordered))
	for _, t := range ordered {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) activeToday(t Task, today string) bool {
	if t.Completed {
		return false
	}
	day, ok := DueDay(t.Due, s.loc)
	return ok && day == today
}

func (s *Store) completedToday(t Task, today string) bool {
	return t.Completed && t.CompletedAt != nil && t.CompletedAt.In(s.loc).Format(time.DateOnly) == today
}

func (s *Store) upcoming(t Task, today string) bool {
	if t.Completed {
		return false
	}
	if t.Due == "" {
		return true
	}
	day, ok := DueDay(t.Due, s.loc)
	return ok && day > today
}

// DueDay returns the calendar day (YYYY-MM-DD) of a due value in loc.
// Date-only values are taken as-is; RFC3339 values are converted to loc.
func DueDay(due string, loc *time.Location) (string, bool) {
	switch {
	case due == "":
		return "", false
	case len(due) == len(time.DateOnly):
		d, err := time.ParseInLocation(time.DateOnly, due, loc)
		if err != nil {
			return "", false
		}
		return d.Format(time.DateOnly), true
	case strings.Contains(due, "T"):
		d, err := time.Parse(time.RFC3339, due)
		if err != nil {
			return "", false
		}
		return d.In(loc).Format(time.DateOnly), true
	}
	return "", false
}
