package remote

import "time"

// Task is a task record as reported by the remote service.
type Task struct {
	ID          string
	Title       string
	Notes       string
	Completed   bool
	CompletedAt *time.Time
	Due         string // "YYYY-MM-DD" or RFC3339, empty when unset
	Position    string // remote sort key, informational only
	Updated     time.Time
}
