package logic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/observability"
)

func TestSeenTracker_GetSeenFailsOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	metrics := observability.NewMockMetricsRegistry()
	tracker := NewSeenTracker(failingSeenStore{}, time.Hour, metrics, zap.New(core))

	seen := tracker.GetSeen(context.Background(), "viewer")

	assert.NotNil(t, seen)
	assert.Empty(t, seen)
	assert.Equal(t, int64(1), metrics.Count("seen_read_degraded"))
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "degraded read")
}

func TestSeenTracker_EmptyViewerKeySkipsStore(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	tracker := NewSeenTracker(failingSeenStore{}, time.Hour, metrics, nil)

	assert.Empty(t, tracker.GetSeen(context.Background(), ""))
	assert.Zero(t, metrics.Count("seen_read_degraded"))
	assert.ErrorIs(t, tracker.MarkSeen(context.Background(), "", "a", time.Now()), ErrEmptyKey)
}

func TestSeenTracker_MarkSeenMonotonic(t *testing.T) {
	store := db.NewMemorySeenStore()
	tracker := NewSeenTracker(store, time.Hour, nil, nil)
	ctx := context.Background()

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tracker.MarkSeen(ctx, "v", "a", t1))
	require.NoError(t, tracker.MarkSeen(ctx, "v", "a", t1.Add(-time.Hour)))

	seen := tracker.GetSeen(ctx, "v")
	assert.True(t, t1.Equal(seen["a"]))

	require.NoError(t, tracker.MarkSeen(ctx, "v", "a", t1.Add(time.Hour)))
	seen = tracker.GetSeen(ctx, "v")
	assert.True(t, t1.Add(time.Hour).Equal(seen["a"]))
}

func TestSeenTracker_MarkSeenFailure(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	tracker := NewSeenTracker(failingSeenStore{}, time.Hour, metrics, nil)

	err := tracker.MarkSeen(context.Background(), "v", "a", time.Now())
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, int64(1), metrics.Count("seen_write_failures"))
}

func TestSeenTracker_Prune(t *testing.T) {
	store := db.NewMemorySeenStore()
	metrics := observability.NewMockMetricsRegistry()
	tracker := NewSeenTracker(store, 0, metrics, nil)
	ctx := context.Background()

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tracker.MarkSeen(ctx, "v1", "a", now.Add(-30*time.Hour)))
	require.NoError(t, tracker.MarkSeen(ctx, "v1", "b", now.Add(-time.Hour)))
	require.NoError(t, tracker.MarkSeen(ctx, "v2", "a", now.Add(-26*time.Hour)))

	removed, err := tracker.Prune(ctx, now.Add(-25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, int64(2), metrics.Count("seen_pruned"))
	assert.Len(t, tracker.GetSeen(ctx, "v1"), 1)
	assert.Empty(t, tracker.GetSeen(ctx, "v2"))

	failing := NewSeenTracker(failingSeenStore{}, 0, metrics, nil)
	removed, err = failing.Prune(ctx, now)
	assert.Error(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestSeenTracker_Nil(t *testing.T) {
	var tracker *SeenTracker
	assert.Empty(t, tracker.GetSeen(context.Background(), "v"))
	assert.ErrorIs(t, tracker.MarkSeen(context.Background(), "v", "a", time.Now()), ErrNilSeenStore)
}
