package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]models.SyncQueueItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]models.SyncQueueItem)}
}

func (m *MemoryStore) Find(_ context.Context, entityID string, op models.SyncOperation, platform string) (*models.SyncQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.Metric.ID == entityID && item.Operation == op && item.TargetPlatform == platform {
			copied := item
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Save(_ context.Context, item *models.SyncQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) Batch(_ context.Context, userID string, maxSize int, now time.Time) ([]models.SyncQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ready []models.SyncQueueItem
	for _, item := range m.items {
		if userID != "" && item.UserID != userID {
			continue
		}
		if item.NotBefore.After(now) {
			continue
		}
		ready = append(ready, item)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority.Rank() != ready[j].Priority.Rank() {
			return ready[i].Priority.Rank() < ready[j].Priority.Rank()
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	if len(ready) > maxSize {
		ready = ready[:maxSize]
	}
	return ready, nil
}

func (m *MemoryStore) Count(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if userID == "" {
		return len(m.items), nil
	}
	count := 0
	for _, item := range m.items {
		if item.UserID == userID {
			count++
		}
	}
	return count, nil
}
