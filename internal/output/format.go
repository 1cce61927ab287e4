// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"

	"gtodo/internal/cache"
	"gtodo/internal/pending"
	"gtodo/internal/syncer"
)

const (
	// ListSeparator separates blocks of status output.
	ListSeparator = "------------"
)

var (
	doneStyle    = color.New(color.FgGreen)
	pendingStyle = color.New(color.FgYellow)
	failedStyle  = color.New(color.FgRed, color.Bold)

	linkPattern   = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	italicPattern = regexp.MustCompile(`(^|[^\w])_([^_]+)_([^\w]|$)`)
	emphasis      = strings.NewReplacer("**", "", "__", "", "*", "")
)

// FormatTask formats a task line.
// Format: "{N:>4}  [ ] {TITLE}{MARKER}\n" where the box is "[x]" for completed
// tasks and the marker flags unsynced changes.
func FormatTask(w io.Writer, num int, task cache.Task) {
	box := "[ ]"
	if task.Completed {
		box = doneStyle.Sprint("[x]")
	}
	fmt.Fprintf(w, "%4d  %s %s%s\n", num, box, CleanTitle(task.Title), Marker(task))
}

// Marker returns the sync indicator shown after a task title.
func Marker(task cache.Task) string {
	switch task.SyncState {
	case cache.SyncPending:
		return " " + pendingStyle.Sprint("(pending)")
	case cache.SyncFailed:
		return " " + failedStyle.Sprint("(sync failed)")
	}
	return ""
}

// CleanTitle renders markdown-ish titles as plain text: emphasis markers are
// dropped and [label](url) becomes "label (url)".
func CleanTitle(title string) string {
	title = normalizeTitle(title)
	title = linkPattern.ReplaceAllString(title, "$1 ($2)")
	title = emphasis.Replace(title)
	title = italicPattern.ReplaceAllString(title, "$1$2$3")
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

// Truncate shortens s to at most width runes, marking the cut with "...".
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

// FormatStatus prints the engine status block.
func FormatStatus(w io.Writer, st syncer.Status, now time.Time) {
	fmt.Fprintf(w, "status:   %s\n", st.Connectivity)
	fmt.Fprintf(w, "last pull: %s\n", Ago(st.LastPull, now))
	fmt.Fprintf(w, "pending:  %d\n", st.Pending)
	if st.Failed > 0 {
		fmt.Fprintf(w, "failed:   %s\n", failedStyle.Sprint(st.Failed))
	} else {
		fmt.Fprintf(w, "failed:   %d\n", st.Failed)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "error:    %s\n", st.LastError)
	}
}

// FormatFailure prints one exhausted action.
func FormatFailure(w io.Writer, a pending.Action, title string) {
	fmt.Fprintf(w, "%s  %-10s %s (%d attempts): %s\n",
		a.ActionID, a.Kind, CleanTitle(title), a.AttemptCount, a.LastError)
}

// Ago renders t relative to now, or "never" for the zero time.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Hour:
		return d.String() + " ago"
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	// Replace newlines with spaces
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	// Trim and check for empty
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}
