package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"

	"gtodo/internal/cache"
	"gtodo/internal/pending"
	"gtodo/internal/syncer"
	"gtodo/internal/testutil"
)

func init() {
	color.NoColor = true
}

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"**Buy** milk":                        "Buy milk",
		"Read *this*":                         "Read this",
		"_urgent_ call":                       "urgent call",
		"see [docs](https://x.io/a_b_c)":      "see docs (https://x.io/a_b_c)",
		"snake_case_name stays":               "snake_case_name stays",
		"line one\nline two":                  "line one line two",
		"   ":                                 "(untitled)",
		"**":                                  "(untitled)",
	}
	for in, want := range cases {
		if got := CleanTitle(in); got != want {
			t.Errorf("CleanTitle(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("expected %q, got %q", "hello...", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected %q, got %q", "short", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Errorf("expected %q, got %q", "ab", got)
	}
}

func TestFormatTask(t *testing.T) {
	var buf bytes.Buffer
	FormatTask(&buf, 1, cache.Task{ID: "a", Title: "Write **report**"})
	FormatTask(&buf, 2, cache.Task{ID: "b", Title: "Call plumber", Completed: true, SyncState: cache.SyncPending})
	FormatTask(&buf, 12, cache.Task{ID: "c", Title: "", SyncState: cache.SyncFailed})
	testutil.Golden(t, "tasks", buf.Bytes())
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	FormatStatus(&buf, syncer.Status{
		Connectivity: syncer.Offline,
		LastPull:     now.Add(-90 * time.Second),
		Pending:      2,
		Failed:       1,
		LastError:    "fetch tasks: timeout",
	}, now)
	testutil.Golden(t, "status", buf.Bytes())
}

func TestFormatFailure(t *testing.T) {
	var buf bytes.Buffer
	FormatFailure(&buf, pending.Action{
		ActionID:     "act-1",
		Kind:         pending.KindComplete,
		AttemptCount: 10,
		LastError:    "503",
	}, "Pay rent")
	want := "act-1  complete   Pay rent (10 attempts): 503\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	if got := Ago(time.Time{}, now); got != "never" {
		t.Errorf("expected never, got %q", got)
	}
	if got := Ago(now, now); got != "just now" {
		t.Errorf("expected just now, got %q", got)
	}
	if got := Ago(now.Add(-5*time.Minute), now); got != "5m0s ago" {
		t.Errorf("expected 5m0s ago, got %q", got)
	}
}
