package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	statuses   map[string]models.SyncStatus
	conflicts  map[string]models.SyncConflict
	watermarks map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:   make(map[string]models.SyncStatus),
		conflicts:  make(map[string]models.SyncConflict),
		watermarks: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, entityID string) (*models.SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := status
	return &copied, nil
}

func (m *MemoryStore) Save(_ context.Context, status *models.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.EntityID] = *status
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, entityID)
	return nil
}

func (m *MemoryStore) ListByStates(_ context.Context, userID string, states ...models.SyncState) ([]models.SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[models.SyncState]struct{}, len(states))
	for _, s := range states {
		wanted[s] = struct{}{}
	}

	var out []models.SyncStatus
	for _, status := range m.statuses {
		if userID != "" && status.UserID != userID {
			continue
		}
		if _, ok := wanted[status.State]; ok {
			out = append(out, status)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountByState(_ context.Context, userID string) (map[models.SyncState]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.SyncState]int)
	for _, status := range m.statuses {
		if userID != "" && status.UserID != userID {
			continue
		}
		counts[status.State]++
	}
	return counts, nil
}

func (m *MemoryStore) SaveConflict(_ context.Context, conflict *models.SyncConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[conflict.EntityID] = *conflict
	return nil
}

func (m *MemoryStore) GetConflict(_ context.Context, entityID string) (*models.SyncConflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conflict, ok := m.conflicts[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := conflict
	return &copied, nil
}

func (m *MemoryStore) DeleteConflict(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conflicts, entityID)
	return nil
}

func (m *MemoryStore) ListConflicts(_ context.Context, userID string) ([]models.SyncConflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SyncConflict
	for _, conflict := range m.conflicts {
		if userID != "" {
			if status, ok := m.statuses[conflict.EntityID]; ok && status.UserID != userID {
				continue
			}
		}
		out = append(out, conflict)
	}
	return out, nil
}

func (m *MemoryStore) GetWatermark(_ context.Context, userID, source string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermarks[userID+"|"+source], nil
}

func (m *MemoryStore) SaveWatermark(_ context.Context, userID, source string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[userID+"|"+source] = at
	return nil
}
