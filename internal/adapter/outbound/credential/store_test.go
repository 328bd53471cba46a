package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyStore_StagePromote(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeyStore(0)

	key, err := store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, store.Stage(ctx, "s1", "k1"))
	key, err = store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, key, "staging must not select")

	require.NoError(t, store.Promote(ctx, "s1"))
	key, err = store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	assert.ErrorIs(t, store.Promote(ctx, "s1"), ErrNoStagedKey)

	other, err := store.Selected(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryKeyStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeyStore(0)

	require.NoError(t, store.Stage(ctx, "s1", "k1"))
	require.NoError(t, store.Promote(ctx, "s1"))
	require.NoError(t, store.Stage(ctx, "s1", "k2"))
	require.NoError(t, store.Clear(ctx, "s1"))

	key, err := store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.ErrorIs(t, store.Promote(ctx, "s1"), ErrNoStagedKey)
}

func TestMemoryKeyStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeyStore(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Stage(ctx, "s1", "k1"))
	require.NoError(t, store.Promote(ctx, "s1"))

	now = now.Add(59 * time.Minute)
	key, err := store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	now = now.Add(2 * time.Minute)
	key, err = store.Selected(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, store.Stage(ctx, "s1", "k2"))
	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, store.Promote(ctx, "s1"), ErrNoStagedKey)
}
