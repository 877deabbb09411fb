package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-ai/mentora/pkg/types"
)

func testSnapshot(id string) *types.Snapshot {
	return &types.Snapshot{
		SessionID: id,
		LearnerID: id,
		State:     "exposition",
		Topic:     &types.Topic{ID: 1, Name: "Addition"},
		History: []types.HistoryEntry{
			{Role: types.RoleUser, Content: "ready", Timestamp: 100},
		},
		Metrics: types.Metrics{StartedAt: 50, LastActivity: 100},
		Version: "1",
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	snap := testSnapshot("learner-1")
	require.NoError(t, store.Persist(ctx, snap))

	got, err := store.Restore(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestPersistIsIdempotentByLearnerID(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	snap := testSnapshot("learner-1")
	require.NoError(t, store.Persist(ctx, snap))

	snap.State = "awaiting_answer"
	require.NoError(t, store.Persist(ctx, snap))

	got, err := store.Restore(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_answer", got.State)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRestoreMissing(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.Restore(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, testSnapshot("learner-1")))
	require.NoError(t, store.Delete(ctx, "learner-1"))

	_, err := store.Restore(ctx, "learner-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "learner-1"))
}

func TestListAndExists(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.Persist(ctx, testSnapshot("a")))
	require.NoError(t, store.Persist(ctx, testSnapshot("b")))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	assert.True(t, store.Exists(ctx, "a"))
	assert.False(t, store.Exists(ctx, "c"))
}

// Ids come from untrusted input; they must not escape the store directory.
func TestHostileLearnerID(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	snap := testSnapshot("../../etc/passwd")
	require.NoError(t, store.Persist(ctx, snap))

	got, err := store.Restore(ctx, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, got.SessionID)
}

func TestPersistRejectsEmptyID(t *testing.T) {
	store := New(t.TempDir())
	assert.Error(t, store.Persist(context.Background(), &types.Snapshot{}))
	assert.Error(t, store.Persist(context.Background(), nil))
}
