package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtodo/internal/remote"
)

func TestUpsertFromRemote_AppendsNewTasksInOrder(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b", "c")})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Snapshot(FilterAll)))

	res, err = s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("d", "c", "b", "a")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(s.Snapshot(FilterAll)))
}

func TestUpsertFromRemote_NeverOverwritesLocalOrder(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b", "c")})
	require.NoError(t, err)
	require.NoError(t, s.Reorder("c", 0))

	batch := remoteTasks("a", "b", "c")
	batch[2].Title = "renamed"
	_, err = s.UpsertFromRemote(RemoteBatch{Tasks: batch, AsOf: s.Revision()})
	require.NoError(t, err)

	snap := s.Snapshot(FilterAll)
	assert.Equal(t, []string{"c", "a", "b"}, ids(snap))
	assert.Equal(t, "renamed", snap[0].Title)
}

func TestUpsertFromRemote_RemovesDeletedTasksUnlessHeld(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b", "c")})
	require.NoError(t, err)

	res, err := s.UpsertFromRemote(RemoteBatch{
		Tasks: remoteTasks("a"),
		AsOf:  s.Revision(),
		Holds: map[string]bool{"c": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, []string{"a", "c"}, ids(s.Snapshot(FilterAll)))
}

func TestUpsertFromRemote_StaleActiveDoesNotRevertHeldCompletion(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("t1")})
	require.NoError(t, err)
	require.NoError(t, s.ApplyLocalCompletion("t1", true))

	// The fetch started after the local completion, but the server has not
	// applied the push yet: it still reports the task active.
	res, err := s.UpsertFromRemote(RemoteBatch{
		Tasks: remoteTasks("t1"),
		AsOf:  s.Revision(),
		Holds: map[string]bool{"t1": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)

	got, _ := s.Get("t1")
	assert.True(t, got.Completed)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpsertFromRemote_LocallyNewerRevisionWins(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("t1")})
	require.NoError(t, err)
	asOf := s.Revision()

	// Completed locally while the fetch was in flight.
	require.NoError(t, s.ApplyLocalCompletion("t1", true))

	_, err = s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("t1"), AsOf: asOf})
	require.NoError(t, err)
	got, _ := s.Get("t1")
	assert.True(t, got.Completed)
}

func TestUpsertFromRemote_UnheldTaskFollowsRemote(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("t1")})
	require.NoError(t, err)
	require.NoError(t, s.ApplyLocalCompletion("t1", true))

	_, err = s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("t1"), AsOf: s.Revision()})
	require.NoError(t, err)
	got, _ := s.Get("t1")
	assert.False(t, got.Completed)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, SyncSynced, got.SyncState)
}

func TestUpsertFromRemote_CompletedWithoutTimestamp(t *testing.T) {
	s, _ := newTestStore(t)
	fetchedAt := testNow.Add(-time.Minute)
	batch := []remote.Task{{ID: "a", Title: "a", Completed: true}}

	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: batch, FetchedAt: fetchedAt})
	require.NoError(t, err)
	got, _ := s.Get("a")
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(fetchedAt))

	// A later fetch without a timestamp keeps the first one and changes nothing.
	res, err := s.UpsertFromRemote(RemoteBatch{Tasks: batch, AsOf: s.Revision(), FetchedAt: testNow})
	require.NoError(t, err)
	assert.False(t, res.Changed())
	got, _ = s.Get("a")
	assert.True(t, got.CompletedAt.Equal(fetchedAt))
}

func TestUpsertFromRemote_IdenticalFetchIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b")})
	require.NoError(t, err)
	rev := s.Revision()

	res, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b"), AsOf: rev})
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, rev, s.Revision())
}

func TestUpsertFromRemote_ReorderDuringFetchDoesNotHoldCompletion(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertFromRemote(RemoteBatch{Tasks: remoteTasks("a", "b", "c")})
	require.NoError(t, err)

	asOf := s.Revision()
	require.NoError(t, s.Reorder("c", 0))
	assert.Equal(t, asOf, s.Revision())

	batch := remoteTasks("a", "b", "c")
	batch[2].Completed = true
	res, err := s.UpsertFromRemote(RemoteBatch{Tasks: batch, AsOf: asOf, FetchedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Conflicts)

	c, _ := s.Get("c")
	assert.True(t, c.Completed)
	assert.NotNil(t, c.CompletedAt)
	assert.Equal(t, []string{"c", "a", "b"}, ids(s.Snapshot(FilterAll)))
}
