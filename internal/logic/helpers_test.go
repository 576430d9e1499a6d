package logic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickwarner/adrotator/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// failingSeenStore fails every call.
type failingSeenStore struct{}

func (failingSeenStore) GetSeen(context.Context, string) (map[string]time.Time, error) {
	return nil, errStoreDown
}

func (failingSeenStore) MarkSeen(context.Context, string, string, time.Time, time.Duration) (time.Time, error) {
	return time.Time{}, errStoreDown
}

func (failingSeenStore) PruneSeen(context.Context, time.Time) (int64, error) {
	return 3, errStoreDown
}

// flakyCounterStore fails the first failures calls, then increments.
type flakyCounterStore struct {
	mu       sync.Mutex
	failures int
	calls    atomic.Int64
	counters map[string]*models.Counters
	err      error
	ctxErrs  []error
}

func newFlakyCounterStore(failures int, ids ...string) *flakyCounterStore {
	s := &flakyCounterStore{failures: failures, counters: make(map[string]*models.Counters), err: errStoreDown}
	for _, id := range ids {
		s.counters[id] = &models.Counters{}
	}
	return s
}

func (s *flakyCounterStore) IncrementViews(ctx context.Context, id string) (models.Counters, error) {
	return s.increment(ctx, id, func(c *models.Counters) { c.Views++ })
}

func (s *flakyCounterStore) IncrementClicks(ctx context.Context, id string) (models.Counters, error) {
	return s.increment(ctx, id, func(c *models.Counters) { c.Clicks++ })
}

func (s *flakyCounterStore) increment(ctx context.Context, id string, apply func(*models.Counters)) (models.Counters, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failures > 0 {
		s.failures--
		return models.Counters{}, s.err
	}
	c, ok := s.counters[id]
	if !ok {
		return models.Counters{}, models.ErrNotFound
	}
	apply(c)
	return *c, nil
}

func (s *flakyCounterStore) get(id string) models.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.counters[id]
}

func fastCounterOptions() CounterOptions {
	return CounterOptions{
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		WriteTimeout:     time.Second,
		AnomalyTolerance: 5,
	}
}
