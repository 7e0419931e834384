package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("queue item not found")

// Store is the durable backing for pending sync work. Items are keyed by id;
// (entity id, operation, target platform) is the coalescing key.
type Store interface {
	Find(ctx context.Context, entityID string, op models.SyncOperation, platform string) (*models.SyncQueueItem, error)
	Save(ctx context.Context, item *models.SyncQueueItem) error
	Remove(ctx context.Context, id string) error
	Batch(ctx context.Context, userID string, maxSize int, now time.Time) ([]models.SyncQueueItem, error)
	Count(ctx context.Context, userID string) (int, error)
}

// EventSink receives queue lifecycle events. kafka.Producer satisfies it.
type EventSink interface {
	PublishSyncEvent(ctx context.Context, event models.SyncEvent) error
}

// Queue is the ordered, durable set of pending sync operations with retry
// bookkeeping. Store failures are returned as errors, never panicked past
// the coordinator boundary.
type Queue struct {
	store       Store
	events      EventSink
	backoffBase time.Duration
	backoffCap  time.Duration
}

func New(store Store, events EventSink, backoffBase, backoffCap time.Duration) *Queue {
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	if backoffCap <= 0 {
		backoffCap = 5 * time.Minute
	}
	return &Queue{store: store, events: events, backoffBase: backoffBase, backoffCap: backoffCap}
}

// Enqueue adds pending work. Enqueuing for an entity/operation/platform that
// is already queued coalesces onto the existing item instead of duplicating:
// the payload and priority are refreshed, retry bookkeeping is preserved.
func (q *Queue) Enqueue(ctx context.Context, item models.SyncQueueItem) (models.SyncQueueItem, error) {
	existing, err := q.store.Find(ctx, item.Metric.ID, item.Operation, item.TargetPlatform)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.SyncQueueItem{}, fmt.Errorf("queue lookup: %w", err)
	}

	if existing != nil {
		existing.Metric = item.Metric
		if item.Priority.Rank() < existing.Priority.Rank() {
			existing.Priority = item.Priority
		}
		if err := q.store.Save(ctx, existing); err != nil {
			return models.SyncQueueItem{}, fmt.Errorf("queue coalesce: %w", err)
		}
		return *existing, nil
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Priority == "" {
		item.Priority = models.PriorityNormal
	}
	if item.NotBefore.IsZero() {
		item.NotBefore = item.CreatedAt
	}

	if err := q.store.Save(ctx, &item); err != nil {
		return models.SyncQueueItem{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return item, nil
}

// DequeueBatch returns up to maxSize items ready for processing, ordered by
// priority (CRITICAL first) then by creation time within a tier. Items still
// inside their backoff window are skipped.
func (q *Queue) DequeueBatch(ctx context.Context, userID string, maxSize int) ([]models.SyncQueueItem, error) {
	if maxSize <= 0 {
		return nil, nil
	}
	items, err := q.store.Batch(ctx, userID, maxSize, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("queue batch: %w", err)
	}
	return items, nil
}

// RecordSuccess removes a completed item and reports it on the event stream.
func (q *Queue) RecordSuccess(ctx context.Context, item models.SyncQueueItem) error {
	if err := q.store.Remove(ctx, item.ID); err != nil {
		return fmt.Errorf("queue remove: %w", err)
	}
	q.emit(ctx, item, models.EventSyncCompleted, true, "")
	return nil
}

// RecordFailure increments the item's retry count. While the retry budget
// lasts, the item is re-queued behind an exponential backoff gate. Once the
// count reaches maxRetries the item is removed and a terminal SYNC_FAILED
// event is emitted exactly once; the failure never disappears silently.
func (q *Queue) RecordFailure(ctx context.Context, item models.SyncQueueItem, cause error) (terminal bool, err error) {
	item.RetryCount++

	if item.RetryCount >= item.MaxRetries {
		if err := q.store.Remove(ctx, item.ID); err != nil {
			return false, fmt.Errorf("queue discard: %w", err)
		}
		detail := fmt.Sprintf("retries exhausted after %d attempts", item.RetryCount)
		if cause != nil {
			detail = fmt.Sprintf("%s: %v", detail, cause)
		}
		q.emit(ctx, item, models.EventSyncFailed, false, detail)
		return true, nil
	}

	item.NotBefore = time.Now().UTC().Add(q.backoff(item.RetryCount))
	if err := q.store.Save(ctx, &item); err != nil {
		return false, fmt.Errorf("queue requeue: %w", err)
	}
	return false, nil
}

// Withdraw removes an item without reporting success or failure. Used when
// the work is superseded, for example an upload that turned into a conflict.
func (q *Queue) Withdraw(ctx context.Context, item models.SyncQueueItem) error {
	if err := q.store.Remove(ctx, item.ID); err != nil {
		return fmt.Errorf("queue withdraw: %w", err)
	}
	return nil
}

// Depth reports how many items a user has queued.
func (q *Queue) Depth(ctx context.Context, userID string) (int, error) {
	return q.store.Count(ctx, userID)
}

// backoff doubles per attempt from the base, capped so a long-failing item
// still retries on a bounded cadence.
func (q *Queue) backoff(retryCount int) time.Duration {
	delay := q.backoffBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= q.backoffCap {
			return q.backoffCap
		}
	}
	if delay > q.backoffCap {
		return q.backoffCap
	}
	return delay
}

func (q *Queue) emit(ctx context.Context, item models.SyncQueueItem, eventType models.SyncEventType, success bool, details string) {
	if q.events == nil {
		return
	}
	event := models.SyncEvent{
		UserID:     item.UserID,
		Type:       eventType,
		Platform:   item.TargetPlatform,
		MetricType: item.Metric.Type,
		EntityID:   item.Metric.ID,
		Timestamp:  time.Now().UTC(),
		Details:    details,
		Success:    success,
	}
	if err := q.events.PublishSyncEvent(ctx, event); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish queue event")
	}
}
