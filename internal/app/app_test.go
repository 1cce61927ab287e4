package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtodo/internal/cache"
	"gtodo/internal/config"
	"gtodo/internal/pending"
	"gtodo/internal/remote"
	"gtodo/internal/testutil"
)

type fixture struct {
	dir   string
	clock *testutil.Clock
	gw    *testutil.FakeGateway
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	var tasks []remote.Task
	for i := 0; i < n; i++ {
		tasks = append(tasks, remote.Task{ID: fmt.Sprintf("T%d", i), Title: fmt.Sprintf("Task %d", i)})
	}
	clock := testutil.NewClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	gw := testutil.NewFakeGateway(tasks...)
	gw.Now = clock.Now
	return &fixture{dir: t.TempDir(), clock: clock, gw: gw}
}

func (f *fixture) open(t *testing.T) *App {
	t.Helper()
	a, err := Open(Options{
		TasksPath:   filepath.Join(f.dir, config.TasksFile),
		PendingPath: filepath.Join(f.dir, config.PendingFile),
		Gateway:     f.gw,
		Settings:    config.Settings{MaxAttempts: 2, CallTimeout: time.Second},
		Now:         f.clock.Now,
		Location:    time.UTC,
	})
	require.NoError(t, err)
	return a
}

func TestOpen_EmptyStateThenSync(t *testing.T) {
	f := newFixture(t, 3)
	a := f.open(t)
	assert.Empty(t, a.Warnings)
	assert.Empty(t, a.Snapshot(cache.FilterAll))

	require.NoError(t, a.Sync(context.Background()))
	assert.Len(t, a.Snapshot(cache.FilterAll), 3)
	require.NoError(t, a.Close())
}

func TestComplete_SurvivesCrashAndIsPushedAfterRestart(t *testing.T) {
	f := newFixture(t, 3)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	f.gw.FetchErr = &remote.NetworkError{Op: "fetch", Err: errors.New("offline")}
	f.gw.PushErrs = []error{&remote.NetworkError{Op: "complete", Err: errors.New("offline")}}
	actionID, err := a.Complete("T1")
	require.NoError(t, err)
	require.Error(t, a.Sync(context.Background()))

	// Restart without Close.
	b := f.open(t)
	task, ok := b.Store.Get("T1")
	require.True(t, ok)
	assert.True(t, task.Completed)
	live, ok := b.Log.Live("T1")
	require.True(t, ok)
	assert.Equal(t, actionID, live.ActionID)

	f.gw.FetchErr = nil
	f.clock.Advance(time.Minute)
	require.NoError(t, b.Sync(context.Background()))
	serverTask, _ := f.gw.Task("T1")
	assert.True(t, serverTask.Completed)
	assert.True(t, f.gw.Applied(actionID))
	assert.Equal(t, 0, b.Status().Pending)
}

func TestToggleAndUndo(t *testing.T) {
	f := newFixture(t, 2)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	_, err := a.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)

	done, err := a.Toggle("T0")
	require.NoError(t, err)
	assert.True(t, done)

	id, err := a.Undo()
	require.NoError(t, err)
	assert.Equal(t, "T0", id)
	task, _ := a.Store.Get("T0")
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)

	live, ok := a.Log.Live("T0")
	require.True(t, ok)
	assert.Equal(t, pending.KindUncomplete, live.Kind)
	assert.Equal(t, 1, a.Log.LiveCount())

	_, err = a.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)

	_, err = a.Toggle("missing")
	assert.ErrorIs(t, err, cache.ErrUnknownTask)
}

func TestReorder_IsLocalOnly(t *testing.T) {
	f := newFixture(t, 10)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))
	before := a.Snapshot(cache.FilterAll)

	require.NoError(t, a.Reorder("T3", 0))

	after := a.Snapshot(cache.FilterAll)
	require.Len(t, after, 10)
	assert.Equal(t, "T3", after[0].ID)
	var rest []string
	for _, task := range before {
		if task.ID != "T3" {
			rest = append(rest, task.ID)
		}
	}
	var got []string
	for _, task := range after[1:] {
		got = append(got, task.ID)
	}
	assert.Equal(t, rest, got)
	assert.Empty(t, a.Log.List())

	require.NoError(t, a.Sync(context.Background()))
	assert.Equal(t, 0, f.gw.CallCount("complete")+f.gw.CallCount("uncomplete"))
	assert.Equal(t, "T3", a.Snapshot(cache.FilterAll)[0].ID, "a pull keeps the local order")
}

func TestResolveRef(t *testing.T) {
	f := newFixture(t, 3)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	task, err := a.ResolveRef(cache.FilterAll, "2")
	require.NoError(t, err)
	assert.Equal(t, "T1", task.ID)

	task, err = a.ResolveRef(cache.FilterAll, "id:T2")
	require.NoError(t, err)
	assert.Equal(t, "T2", task.ID)

	_, err = a.ResolveRef(cache.FilterAll, "4")
	assert.ErrorIs(t, err, ErrRefOutOfRange)
	_, err = a.ResolveRef(cache.FilterAll, "0")
	assert.ErrorIs(t, err, ErrRefOutOfRange)
	_, err = a.ResolveRef(cache.FilterAll, "abc")
	assert.ErrorIs(t, err, ErrBadRef)
	_, err = a.ResolveRef(cache.FilterAll, "id:nope")
	assert.ErrorIs(t, err, cache.ErrUnknownTask)
}

func TestOpen_CorruptLogRequeuesUnsyncedTasks(t *testing.T) {
	f := newFixture(t, 3)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))
	_, err := a.Complete("T2")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, config.PendingFile), []byte("garbage"), 0o600))

	b := f.open(t)
	require.Len(t, b.Warnings, 1)
	live, ok := b.Log.Live("T2")
	require.True(t, ok)
	assert.Equal(t, pending.KindComplete, live.Kind)
}

func TestOpen_CorruptSnapshotIsAWarning(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, config.TasksFile), []byte("{"), 0o600))

	a := f.open(t)
	require.Len(t, a.Warnings, 1)
	assert.Equal(t, 0, a.Store.Len())
}

func TestRetry_RequeuesExhaustedAction(t *testing.T) {
	f := newFixture(t, 1)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	transient := &remote.NetworkError{Op: "complete", Err: errors.New("down")}
	f.gw.PushErrs = []error{transient, transient}
	_, err := a.Complete("T0")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := a.Engine.PushPending(context.Background())
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}
	require.Len(t, a.Failures(), 1)
	task, _ := a.Store.Get("T0")
	require.True(t, task.SyncFailed())

	n, err := a.Retry("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	task, _ = a.Store.Get("T0")
	assert.Equal(t, cache.SyncPending, task.SyncState)

	_, err = a.Engine.PushPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, a.Failures())
	task, _ = a.Store.Get("T0")
	assert.Equal(t, cache.SyncSynced, task.SyncState)
}

func TestOpen_RequeuesCompletionMissingFromLog(t *testing.T) {
	f := newFixture(t, 3)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	// The store write landed but the process died before the enqueue.
	require.NoError(t, a.Store.ApplyLocalCompletion("T1", true))
	_, live := a.Log.Live("T1")
	require.False(t, live)

	b := f.open(t)
	assert.Empty(t, b.Warnings)
	action, ok := b.Log.Live("T1")
	require.True(t, ok)
	assert.Equal(t, pending.KindComplete, action.Kind)

	require.NoError(t, b.Sync(context.Background()))
	serverTask, _ := f.gw.Task("T1")
	assert.True(t, serverTask.Completed)
	task, _ := b.Store.Get("T1")
	assert.True(t, task.Completed)
	assert.Equal(t, cache.SyncSynced, task.SyncState)
	assert.Equal(t, 1, f.gw.CallCount("complete"))
}

func TestOpen_DoesNotRequeueRejectedTask(t *testing.T) {
	f := newFixture(t, 2)
	a := f.open(t)
	require.NoError(t, a.Sync(context.Background()))

	f.gw.PushErrs = []error{&remote.RejectedError{Op: "complete", Reason: remote.ReasonPermission, StatusCode: 403}}
	_, err := a.Complete("T0")
	require.NoError(t, err)
	_, err = a.Engine.PushPending(context.Background())
	require.NoError(t, err)
	task, _ := a.Store.Get("T0")
	require.True(t, task.SyncFailed())

	b := f.open(t)
	_, live := b.Log.Live("T0")
	assert.False(t, live)
	assert.Equal(t, 0, b.Log.LiveCount())
}
