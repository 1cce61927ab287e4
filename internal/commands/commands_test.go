package commands_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"gtodo/internal/app"
	"gtodo/internal/commands"
	"gtodo/internal/config"
	"gtodo/internal/exitcode"
	"gtodo/internal/remote"
	"gtodo/internal/testutil"
)

func init() {
	color.NoColor = true
}

var testNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// newApp opens an app in a temp dir against gw and pulls once.
func newApp(t *testing.T, gw *testutil.FakeGateway) *app.App {
	t.Helper()
	a, _ := newAppWithClock(t, gw)
	return a
}

func newAppWithClock(t *testing.T, gw *testutil.FakeGateway) (*app.App, *testutil.Clock) {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewClock(testNow)
	gw.Now = clock.Now
	a, err := app.Open(app.Options{
		TasksPath:   filepath.Join(dir, config.TasksFile),
		PendingPath: filepath.Join(dir, config.PendingFile),
		Gateway:     gw,
		Settings:    config.Settings{MaxAttempts: 2, CallTimeout: time.Second},
		Now:         clock.Now,
		Location:    time.UTC,
	})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	if err := a.Sync(context.Background()); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	return a, clock
}

func newGateway(titles ...string) *testutil.FakeGateway {
	var tasks []remote.Task
	for i, title := range titles {
		tasks = append(tasks, remote.Task{ID: fmt.Sprintf("t%d", i+1), Title: title})
	}
	return testutil.NewFakeGateway(tasks...)
}

// runCommand is a helper to run a command against an app.
func runCommand(t *testing.T, cmd commands.Command, a *app.App, args []string, quiet bool) (stdout, stderr string, code int) {
	t.Helper()

	var outBuf, errBuf bytes.Buffer

	cfg := &config.Config{
		Dir:   t.TempDir(),
		Quiet: quiet,
	}

	ctx := context.Background()
	code = cmd.Run(ctx, cfg, a, args, &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), code
}

// Tests for version command
func TestVersionCommand(t *testing.T) {
	cmd := &commands.VersionCmd{}

	stdout, stderr, code := runCommand(t, cmd, nil, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "gtodo 0.1.0\n" {
		t.Errorf("expected version output, got %q", stdout)
	}
}

// Tests for help command
func TestHelpCommand(t *testing.T) {
	cmd := &commands.HelpCmd{}

	stdout, stderr, code := runCommand(t, cmd, nil, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	// Every registered command is documented
	for _, c := range commands.DefaultRegistry.All() {
		if !strings.Contains(stdout, "gtodo "+c.Name()) {
			t.Errorf("help output is missing %q", c.Name())
		}
	}
}

// Tests for list command
func TestListCommand_AllView(t *testing.T) {
	a := newApp(t, newGateway("Buy milk", "Buy **eggs**"))

	cmd := &commands.ListCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}

	expected := "   1  [ ] Buy milk\n   2  [ ] Buy eggs\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestListCommand_TodayView(t *testing.T) {
	gw := testutil.NewFakeGateway(
		remote.Task{ID: "t1", Title: "Later", Due: "2026-10-25"},
		remote.Task{ID: "t2", Title: "Today", Due: "2026-10-18"},
		remote.Task{ID: "t3", Title: "Done today", Completed: true, CompletedAt: &testNow},
	)
	a := newApp(t, gw)

	cmd := &commands.ListCmd{}
	cmd.SetView("today")
	stdout, _, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	expected := "   1  [ ] Today\n   2  [x] Done today\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestListCommand_UnknownView(t *testing.T) {
	a := newApp(t, newGateway("Buy milk"))

	cmd := &commands.ListCmd{}
	cmd.SetView("someday")
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if stderr != "error: unknown view: someday\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestListCommand_EmptyQuiet(t *testing.T) {
	a := newApp(t, testutil.NewFakeGateway())

	cmd := &commands.ListCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, nil, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	// Quiet mode should suppress "no tasks found"
	if stdout != "" {
		t.Errorf("expected empty stdout in quiet mode, got %q", stdout)
	}
}

func TestListCommand_RefreshOfflineStillLists(t *testing.T) {
	gw := newGateway("Buy milk")
	a := newApp(t, gw)
	gw.FetchErr = &remote.NetworkError{Op: "fetch", Err: errors.New("no route to host")}

	cmd := &commands.ListCmd{}
	cmd.SetRefresh(true)
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "   1  [ ] Buy milk\n" {
		t.Errorf("expected cached task, got %q", stdout)
	}
	if !strings.HasPrefix(stderr, "warning: sync failed: ") {
		t.Errorf("expected sync warning, got %q", stderr)
	}
}

// Tests for done command
func TestDoneCommand_PushesImmediately(t *testing.T) {
	gw := newGateway("Buy milk", "Buy eggs")
	a := newApp(t, gw)

	cmd := &commands.DoneCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, []string{"2"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok', got %q", stdout)
	}
	if task, _ := gw.Task("t2"); !task.Completed {
		t.Error("expected t2 completed on the server")
	}
}

func TestDoneCommand_OfflineQueues(t *testing.T) {
	gw := newGateway("Buy milk")
	a := newApp(t, gw)
	gw.PushErrs = []error{&remote.NetworkError{Op: "complete", Err: errors.New("no route to host")}}

	cmd := &commands.DoneCmd{}
	stdout, _, code := runCommand(t, cmd, a, []string{"id:t1"}, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "ok (queued)\n" {
		t.Errorf("expected 'ok (queued)', got %q", stdout)
	}
	task, _ := a.Store.Get("t1")
	if !task.Completed {
		t.Error("expected local completion")
	}
	if a.Log.LiveCount() != 1 {
		t.Errorf("expected 1 live action, got %d", a.Log.LiveCount())
	}
}

func TestDoneCommand_RefErrors(t *testing.T) {
	a := newApp(t, newGateway("Buy milk"))

	cases := []struct {
		args []string
		want string
	}{
		{nil, "error: task reference required\n"},
		{[]string{"abc"}, "error: invalid task reference: abc\n"},
		{[]string{"5"}, "error: task number out of range: 5\n"},
		{[]string{"0"}, "error: task number out of range: 0\n"},
		{[]string{"id:nope"}, "error: task not found: nope\n"},
	}
	for _, tc := range cases {
		cmd := &commands.DoneCmd{}
		_, stderr, code := runCommand(t, cmd, a, tc.args, false)
		if code != exitcode.UserError {
			t.Errorf("%v: expected exit code %d, got %d", tc.args, exitcode.UserError, code)
		}
		if stderr != tc.want {
			t.Errorf("%v: expected %q, got %q", tc.args, tc.want, stderr)
		}
	}
}

func TestUndoneCommand(t *testing.T) {
	gw := testutil.NewFakeGateway(remote.Task{ID: "t1", Title: "Buy milk", Completed: true, CompletedAt: &testNow})
	a := newApp(t, gw)

	cmd := &commands.UndoneCmd{}
	stdout, _, code := runCommand(t, cmd, a, []string{"1"}, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout in quiet mode, got %q", stdout)
	}
	if task, _ := gw.Task("t1"); task.Completed {
		t.Error("expected t1 reopened on the server")
	}
}

// Tests for move command
func TestMoveCommand_LocalOnly(t *testing.T) {
	gw := newGateway("a", "b", "c")
	a := newApp(t, gw)
	calls := len(gw.Calls())

	cmd := &commands.MoveCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, []string{"3", "1"}, false)

	if code != exitcode.Success {
		t.Fatalf("expected exit code %d, got %d (%q)", exitcode.Success, code, stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok', got %q", stdout)
	}

	list := &commands.ListCmd{}
	stdout, _, _ = runCommand(t, list, a, nil, false)
	expected := "   1  [ ] c\n   2  [ ] a\n   3  [ ] b\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
	if len(gw.Calls()) != calls {
		t.Error("move must not call the server")
	}
}

func TestMoveCommand_BadPosition(t *testing.T) {
	a := newApp(t, newGateway("a"))

	cmd := &commands.MoveCmd{}
	_, stderr, code := runCommand(t, cmd, a, []string{"1", "first"}, false)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if stderr != "error: invalid position: first\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}

	_, stderr, _ = runCommand(t, cmd, a, []string{"1"}, false)
	if stderr != "error: task reference and position required\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

// Tests for sync command
func TestSyncCommand(t *testing.T) {
	gw := newGateway("Buy milk")
	a := newApp(t, gw)
	gw.AddTask("t9", "From phone")

	cmd := &commands.SyncCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Fatalf("expected exit code %d, got %d (%q)", exitcode.Success, code, stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok', got %q", stdout)
	}
	if _, ok := a.Store.Get("t9"); !ok {
		t.Error("expected new remote task in the cache")
	}
}

func TestSyncCommand_BackendError(t *testing.T) {
	gw := newGateway("Buy milk")
	a := newApp(t, gw)
	gw.FetchErr = &remote.NetworkError{Op: "fetch", Err: errors.New("connection refused")}

	cmd := &commands.SyncCmd{}
	_, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if !strings.HasPrefix(stderr, "error: backend error: ") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestSyncCommand_RejectedShowsNotice(t *testing.T) {
	gw := newGateway("Buy milk")
	a, clock := newAppWithClock(t, gw)
	gw.PushErrs = []error{&remote.NetworkError{Op: "complete", Err: errors.New("offline")}}
	if _, err := a.Complete("t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	gw.DeleteTask("t1")
	clock.Advance(time.Minute)

	cmd := &commands.SyncCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok', got %q", stdout)
	}
	if !strings.HasPrefix(stderr, "warning: task t1: change rejected by server") {
		t.Errorf("expected rejection notice, got %q", stderr)
	}
	if a.Log.LiveCount() != 0 {
		t.Errorf("expected the rejected action to be dropped, got %d live", a.Log.LiveCount())
	}
}

// Tests for status command
func TestStatusCommand(t *testing.T) {
	a := newApp(t, newGateway("Buy milk"))

	cmd := &commands.StatusCmd{}
	cmd.SetClock(func() time.Time { return testNow.Add(30 * time.Second) })
	stdout, stderr, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	expected := "status:   online\nlast pull: 30s ago\npending:  0\nfailed:   0\n"
	if stdout != expected {
		t.Errorf("expected %q, got %q", expected, stdout)
	}
}

func TestStatusCommand_FailuresAndMetrics(t *testing.T) {
	gw := newGateway("Pay rent")
	a, clock := newAppWithClock(t, gw)
	gw.PushErrs = []error{
		&remote.NetworkError{Op: "complete", Err: errors.New("503")},
		&remote.NetworkError{Op: "complete", Err: errors.New("503")},
	}
	actionID, err := a.Complete("t1")
	if err != nil {
		t.Fatal(err)
	}
	exhaust(t, a, clock)

	cmd := &commands.StatusCmd{}
	cmd.SetMetrics(true)
	stdout, _, code := runCommand(t, cmd, a, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if !strings.Contains(stdout, "failed:   1\n") {
		t.Errorf("expected one failure, got %q", stdout)
	}
	if !strings.Contains(stdout, actionID+"  complete   Pay rent (2 attempts)") {
		t.Errorf("expected failure line for %s, got %q", actionID, stdout)
	}
	if !strings.Contains(stdout, `gtodo_sync_push_attempts_total{outcome="exhausted"} 1`) {
		t.Errorf("expected metrics dump, got %q", stdout)
	}
}

// Tests for retry command
func TestRetryCommand(t *testing.T) {
	gw := newGateway("Pay rent")
	a, clock := newAppWithClock(t, gw)
	gw.PushErrs = []error{
		&remote.NetworkError{Op: "complete", Err: errors.New("503")},
		&remote.NetworkError{Op: "complete", Err: errors.New("503")},
	}
	actionID, err := a.Complete("t1")
	if err != nil {
		t.Fatal(err)
	}
	exhaust(t, a, clock)

	cmd := &commands.RetryCmd{}
	stdout, stderr, code := runCommand(t, cmd, a, []string{actionID}, false)

	if code != exitcode.Success {
		t.Fatalf("expected exit code %d, got %d (%q)", exitcode.Success, code, stderr)
	}
	if stdout != "requeued 1\n" {
		t.Errorf("expected 'requeued 1', got %q", stdout)
	}
	if !gw.Applied(actionID) {
		t.Error("expected the retried action to reach the server")
	}
}

func TestRetryCommand_Errors(t *testing.T) {
	a := newApp(t, newGateway("Pay rent"))

	cmd := &commands.RetryCmd{}
	_, stderr, code := runCommand(t, cmd, a, nil, false)
	if code != exitcode.UserError || stderr != "error: action id required\n" {
		t.Errorf("unexpected result %d %q", code, stderr)
	}

	_, stderr, code = runCommand(t, cmd, a, []string{"nope"}, false)
	if code != exitcode.UserError || stderr != "error: unknown action: nope\n" {
		t.Errorf("unexpected result %d %q", code, stderr)
	}

	all := &commands.RetryCmd{}
	all.SetAll(true)
	stdout, _, code := runCommand(t, all, a, nil, false)
	if code != exitcode.Success || stdout != "requeued 0\n" {
		t.Errorf("unexpected result %d %q", code, stdout)
	}
}

// exhaust pushes until the app's only action runs out of attempts, skipping
// past each backoff window.
func exhaust(t *testing.T, a *app.App, clock *testutil.Clock) {
	t.Helper()
	for i := 0; i < 2; i++ {
		clock.Advance(10 * time.Minute)
		if _, err := a.Push(context.Background()); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if len(a.Failures()) != 1 {
		t.Fatalf("expected 1 exhausted action, got %d", len(a.Failures()))
	}
}
