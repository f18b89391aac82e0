package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/server/internal/agent/model"
	errx "github.com/funnelscope/server/internal/core/error"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := model.NewSession("s1")
	sess.AppendTurn(model.RoleUser, "analyze my funnel", nil)
	require.NoError(t, store.Put(ctx, sess))
	assert.EqualValues(t, 1, sess.Version)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "analyze my funnel", got.Turns[0].Content)
	assert.EqualValues(t, 1, got.Version)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, model.NewSession("s1")))

	a, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	a.AppendTurn(model.RoleUser, "mutated", nil)

	b, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, b.Turns, "mutating a loaded session must not leak into the store")
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, model.NewSession("s1")))

	first, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, first))

	err = store.Put(ctx, second)
	assert.ErrorIs(t, err, errx.ErrSessionConflict, "stale version must lose the race")
}

func TestMemoryStoreFirstWriteRace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := model.NewSession("s1")
	b := model.NewSession("s1")

	require.NoError(t, store.Put(ctx, a))
	assert.ErrorIs(t, store.Put(ctx, b), errx.ErrSessionConflict,
		"two version-0 writers must not both create the session")
}

func TestMemoryStoreStaleCreateConflicts(t *testing.T) {
	store := NewMemoryStore()

	sess := model.NewSession("s1")
	sess.Version = 7 // claims a history the store has never seen

	assert.ErrorIs(t, store.Put(context.Background(), sess), errx.ErrSessionConflict)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, model.NewSession("s1")))

	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)

	// deleting a missing session is not an error
	assert.NoError(t, store.Delete(ctx, "s1"))
}

func TestNewStoreFallsBackToMemory(t *testing.T) {
	store := NewStore(nil, 0)

	_, ok := store.(*MemoryStore)
	assert.True(t, ok)
}
