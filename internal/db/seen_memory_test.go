package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySeenStore(t *testing.T) {
	store := NewMemorySeenStore()
	ctx := context.Background()
	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, err := store.MarkSeen(ctx, "v", "a", t1, 0)
	require.NoError(t, err)
	stored, err := store.MarkSeen(ctx, "v", "a", t1.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.True(t, t1.Equal(stored))

	_, err = store.MarkSeen(ctx, "v", "b", t1.Add(-48*time.Hour), 0)
	require.NoError(t, err)

	seen, err := store.GetSeen(ctx, "v")
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	// mutating the copy leaves the store alone
	delete(seen, "a")
	seen, _ = store.GetSeen(ctx, "v")
	assert.Len(t, seen, 2)

	removed, err := store.PruneSeen(ctx, t1.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	seen, _ = store.GetSeen(ctx, "v")
	assert.Equal(t, map[string]time.Time{"a": t1}, seen)
}
