package db

import (
	"context"
	"sync"
	"time"
)

// MemorySeenStore keeps seen records in process memory. It is used when no
// Redis address is configured; records are lost on restart.
type MemorySeenStore struct {
	mu      sync.Mutex
	viewers map[string]map[string]time.Time
}

// NewMemorySeenStore creates an empty store.
func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{viewers: make(map[string]map[string]time.Time)}
}

// GetSeen returns a copy of the viewer's records.
func (m *MemorySeenStore) GetSeen(ctx context.Context, viewerKey string) (map[string]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.viewers[viewerKey]))
	for id, at := range m.viewers[viewerKey] {
		out[id] = at
	}
	return out, nil
}

// MarkSeen keeps the later of the stored and given times. ttl is ignored;
// PruneSeen does the expiry.
func (m *MemorySeenStore) MarkSeen(ctx context.Context, viewerKey, adID string, at time.Time, _ time.Duration) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	at = at.UTC().Truncate(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	ads, ok := m.viewers[viewerKey]
	if !ok {
		ads = make(map[string]time.Time)
		m.viewers[viewerKey] = ads
	}
	if cur, ok := ads[adID]; ok && !cur.Before(at) {
		return cur, nil
	}
	ads[adID] = at
	return at, nil
}

// PruneSeen removes records older than before.
func (m *MemorySeenStore) PruneSeen(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for viewer, ads := range m.viewers {
		for id, at := range ads {
			if at.Before(before) {
				delete(ads, id)
				removed++
			}
		}
		if len(ads) == 0 {
			delete(m.viewers, viewer)
		}
	}
	return removed, nil
}
