package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

var (
	ErrNotFound          = errors.New("sync status not found")
	ErrInvalidTransition = errors.New("invalid sync state transition")
)

// Store is the persistence boundary for sync statuses and their paired
// conflicts. Implementations must be safe for concurrent readers; all writes
// go through the coordinator's single-writer-per-user discipline.
type Store interface {
	Get(ctx context.Context, entityID string) (*models.SyncStatus, error)
	Save(ctx context.Context, status *models.SyncStatus) error
	Delete(ctx context.Context, entityID string) error
	ListByStates(ctx context.Context, userID string, states ...models.SyncState) ([]models.SyncStatus, error)
	CountByState(ctx context.Context, userID string) (map[models.SyncState]int, error)

	SaveConflict(ctx context.Context, conflict *models.SyncConflict) error
	GetConflict(ctx context.Context, entityID string) (*models.SyncConflict, error)
	DeleteConflict(ctx context.Context, entityID string) error
	ListConflicts(ctx context.Context, userID string) ([]models.SyncConflict, error)

	GetWatermark(ctx context.Context, userID, source string) (time.Time, error)
	SaveWatermark(ctx context.Context, userID, source string, at time.Time) error
}

// Tracker drives the per-entity sync state machine:
//
//	(none) -> PENDING_UPLOAD|PENDING_DOWNLOAD -> SYNCED | CONFLICT | FAILED
//
// CONFLICT and FAILED transition back to a pending state when a resolution
// or retry is initiated. SYNCED is the only terminal-success state.
type Tracker struct {
	store Store
}

func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// MarkPendingUpload moves an entity into PENDING_UPLOAD and bumps its
// version. A conflicted entity must be resolved first.
func (t *Tracker) MarkPendingUpload(ctx context.Context, userID, entityID, entityType, deviceID string) (*models.SyncStatus, error) {
	return t.markPending(ctx, userID, entityID, entityType, deviceID, models.StatePendingUpload)
}

// MarkPendingDownload moves an entity into PENDING_DOWNLOAD and bumps its
// version.
func (t *Tracker) MarkPendingDownload(ctx context.Context, userID, entityID, entityType, deviceID string) (*models.SyncStatus, error) {
	return t.markPending(ctx, userID, entityID, entityType, deviceID, models.StatePendingDownload)
}

func (t *Tracker) markPending(ctx context.Context, userID, entityID, entityType, deviceID string, state models.SyncState) (*models.SyncStatus, error) {
	now := time.Now().UTC()

	status, err := t.store.Get(ctx, entityID)
	if errors.Is(err, ErrNotFound) {
		status = &models.SyncStatus{
			EntityID:         entityID,
			EntityType:       entityType,
			UserID:           userID,
			State:            state,
			LastModifiedTime: now,
			DeviceID:         deviceID,
			Version:          1,
		}
		return status, t.store.Save(ctx, status)
	}
	if err != nil {
		return nil, err
	}

	if status.State == models.StateConflict {
		return nil, fmt.Errorf("entity %s is conflicted: %w", entityID, ErrInvalidTransition)
	}

	status.State = state
	status.LastModifiedTime = now
	status.Version++
	if deviceID != "" {
		status.DeviceID = deviceID
	}
	return status, t.store.Save(ctx, status)
}

// MarkSynced completes a pending operation. The remote-assigned version is
// adopted only when it moves forward; the version never decreases.
func (t *Tracker) MarkSynced(ctx context.Context, entityID string, syncTime time.Time, version int64) error {
	status, err := t.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if !status.State.Pending() {
		return fmt.Errorf("cannot mark %s synced from %s: %w", entityID, status.State, ErrInvalidTransition)
	}

	status.State = models.StateSynced
	status.LastSyncTime = &syncTime
	if version > status.Version {
		status.Version = version
	}
	status.RetryCount = 0
	status.ErrorMessage = ""
	return t.store.Save(ctx, status)
}

// MarkConflict records a detected divergence. Retry count is preserved so a
// resolve-then-fail sequence keeps its history.
func (t *Tracker) MarkConflict(ctx context.Context, entityID string, conflict models.SyncConflict) error {
	status, err := t.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if !status.State.Pending() {
		return fmt.Errorf("cannot mark %s conflicted from %s: %w", entityID, status.State, ErrInvalidTransition)
	}

	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = time.Now().UTC()
	}
	if err := t.store.SaveConflict(ctx, &conflict); err != nil {
		return err
	}

	status.State = models.StateConflict
	return t.store.Save(ctx, status)
}

// MarkFailed records a failed attempt and returns the new retry count so the
// caller can compare against its retry budget. The error message must not be
// empty: a FAILED status with no reason is undiagnosable.
func (t *Tracker) MarkFailed(ctx context.Context, entityID, errMsg string) (int, error) {
	if errMsg == "" {
		return 0, errors.New("failure reason required")
	}

	status, err := t.store.Get(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if !status.State.Pending() {
		return 0, fmt.Errorf("cannot mark %s failed from %s: %w", entityID, status.State, ErrInvalidTransition)
	}

	status.State = models.StateFailed
	status.RetryCount++
	status.ErrorMessage = errMsg
	if err := t.store.Save(ctx, status); err != nil {
		return 0, err
	}
	return status.RetryCount, nil
}

// ResolveConflict moves a conflicted entity to its post-resolution state and
// discards the stored conflict. The next state is SYNCED when the resolution
// already applied, or a pending state when a re-push or re-pull follows.
func (t *Tracker) ResolveConflict(ctx context.Context, entityID string, next models.SyncState, syncTime time.Time) error {
	if next != models.StateSynced && !next.Pending() {
		return fmt.Errorf("conflict cannot resolve to %s: %w", next, ErrInvalidTransition)
	}

	status, err := t.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if status.State != models.StateConflict {
		return fmt.Errorf("entity %s is not conflicted: %w", entityID, ErrInvalidTransition)
	}

	status.State = next
	status.LastModifiedTime = time.Now().UTC()
	if next == models.StateSynced {
		status.LastSyncTime = &syncTime
		status.RetryCount = 0
		status.ErrorMessage = ""
	} else {
		status.Version++
	}

	if err := t.store.Save(ctx, status); err != nil {
		return err
	}
	return t.store.DeleteConflict(ctx, entityID)
}

// Retry re-enters the pending flow from FAILED without resetting the retry
// count.
func (t *Tracker) Retry(ctx context.Context, entityID string, state models.SyncState) error {
	if !state.Pending() {
		return fmt.Errorf("retry target must be a pending state, got %s: %w", state, ErrInvalidTransition)
	}

	status, err := t.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if status.State != models.StateFailed {
		return fmt.Errorf("entity %s is not failed: %w", entityID, ErrInvalidTransition)
	}

	status.State = state
	status.LastModifiedTime = time.Now().UTC()
	status.Version++
	return t.store.Save(ctx, status)
}

func (t *Tracker) Get(ctx context.Context, entityID string) (*models.SyncStatus, error) {
	return t.store.Get(ctx, entityID)
}

func (t *Tracker) Conflict(ctx context.Context, entityID string) (*models.SyncConflict, error) {
	return t.store.GetConflict(ctx, entityID)
}

func (t *Tracker) Conflicts(ctx context.Context, userID string) ([]models.SyncConflict, error) {
	return t.store.ListConflicts(ctx, userID)
}

func (t *Tracker) Pending(ctx context.Context, userID string) ([]models.SyncStatus, error) {
	return t.store.ListByStates(ctx, userID, models.StatePendingUpload, models.StatePendingDownload)
}

// Forget removes tracking for a deleted entity.
func (t *Tracker) Forget(ctx context.Context, entityID string) error {
	if err := t.store.DeleteConflict(ctx, entityID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return t.store.Delete(ctx, entityID)
}

// Stats summarises a user's sync position for the UI: synced, pending,
// conflicted and failed counts plus the most recent sync time.
func (t *Tracker) Stats(ctx context.Context, userID string) (models.SyncStats, error) {
	counts, err := t.store.CountByState(ctx, userID)
	if err != nil {
		return models.SyncStats{}, err
	}

	stats := models.SyncStats{
		Synced:          counts[models.StateSynced],
		PendingUpload:   counts[models.StatePendingUpload],
		PendingDownload: counts[models.StatePendingDownload],
		Conflicts:       counts[models.StateConflict],
		Failed:          counts[models.StateFailed],
	}

	synced, err := t.store.ListByStates(ctx, userID, models.StateSynced)
	if err != nil {
		return models.SyncStats{}, err
	}
	for _, s := range synced {
		if s.LastSyncTime != nil && (stats.LastSyncTime == nil || s.LastSyncTime.After(*stats.LastSyncTime)) {
			stats.LastSyncTime = s.LastSyncTime
		}
	}

	return stats, nil
}

// LastFetch reports the last successful fetch watermark for a source (a
// platform adapter or the cloud store). Zero means the source has never
// completed a fetch for this user.
func (t *Tracker) LastFetch(ctx context.Context, userID, source string) (time.Time, error) {
	return t.store.GetWatermark(ctx, userID, source)
}

// RecordFetch advances the fetch watermark for a source. The watermark only
// moves forward, and only callers that finished a fetch may advance it, so a
// source that failed mid-cycle re-fetches the same window next time.
func (t *Tracker) RecordFetch(ctx context.Context, userID, source string, at time.Time) error {
	current, err := t.store.GetWatermark(ctx, userID, source)
	if err != nil {
		return err
	}
	if !at.After(current) {
		return nil
	}
	return t.store.SaveWatermark(ctx, userID, source, at)
}
