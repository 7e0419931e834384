package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.SyncEvent
}

func (r *recordingSink) PublishSyncEvent(_ context.Context, event models.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) ofType(t models.SyncEventType) []models.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func item(id string, op models.SyncOperation, priority models.SyncPriority, createdAt time.Time) models.SyncQueueItem {
	return models.SyncQueueItem{
		UserID:         "user-1",
		Operation:      op,
		Metric:         models.HealthMetric{ID: id, UserID: "user-1", Type: models.MetricSteps, Value: 1000, Unit: "steps"},
		TargetPlatform: "garmin",
		CreatedAt:      createdAt,
		MaxRetries:     3,
		Priority:       priority,
	}
}

func TestEnqueueCoalescesSameNaturalKey(t *testing.T) {
	q := New(NewMemoryStore(), &recordingSink{}, time.Second, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := q.Enqueue(ctx, item("m-1", models.OpUpload, models.PriorityNormal, now))
	if err != nil {
		t.Fatal(err)
	}

	updated := item("m-1", models.OpUpload, models.PriorityHigh, now.Add(time.Minute))
	updated.Metric.Value = 2000
	second, err := q.Enqueue(ctx, updated)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected coalesced item to keep id %s, got %s", first.ID, second.ID)
	}

	batch, err := q.DequeueBatch(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected exactly one queued item for the triple, got %d", len(batch))
	}
	if batch[0].Metric.Value != 2000 {
		t.Fatalf("expected refreshed payload, got value %g", batch[0].Metric.Value)
	}
	if batch[0].Priority != models.PriorityHigh {
		t.Fatalf("expected priority raised to HIGH, got %s", batch[0].Priority)
	}
}

func TestEnqueueKeepsDistinctOperationsSeparate(t *testing.T) {
	q := New(NewMemoryStore(), &recordingSink{}, time.Second, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := q.Enqueue(ctx, item("m-1", models.OpUpload, models.PriorityNormal, now)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, item("m-1", models.OpDelete, models.PriorityNormal, now)); err != nil {
		t.Fatal(err)
	}

	batch, err := q.DequeueBatch(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected separate items per operation, got %d", len(batch))
	}
}

func TestDequeueBatchOrdersByPriorityThenAge(t *testing.T) {
	q := New(NewMemoryStore(), &recordingSink{}, time.Second, time.Minute)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	if _, err := q.Enqueue(ctx, item("low", models.OpUpload, models.PriorityLow, base)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, item("old-normal", models.OpUpload, models.PriorityNormal, base)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, item("new-normal", models.OpUpload, models.PriorityNormal, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, item("critical", models.OpUpload, models.PriorityCritical, base.Add(30*time.Minute))); err != nil {
		t.Fatal(err)
	}

	batch, err := q.DequeueBatch(ctx, "user-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected batch capped at 3, got %d", len(batch))
	}

	got := []string{batch[0].Metric.ID, batch[1].Metric.ID, batch[2].Metric.ID}
	want := []string{"critical", "old-normal", "new-normal"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRecordFailureAppliesBackoff(t *testing.T) {
	q := New(NewMemoryStore(), &recordingSink{}, 2*time.Second, time.Minute)
	ctx := context.Background()

	queued, err := q.Enqueue(ctx, item("m-1", models.OpUpload, models.PriorityNormal, time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}

	terminal, err := q.RecordFailure(ctx, queued, errors.New("connection reset"))
	if err != nil {
		t.Fatal(err)
	}
	if terminal {
		t.Fatal("first failure should not be terminal")
	}

	// The item is gated behind its backoff window, so an immediate drain
	// skips it.
	batch, err := q.DequeueBatch(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected backoff to defer the item, got %d items", len(batch))
	}
}

func TestRetryExhaustionEmitsTerminalFailureOnce(t *testing.T) {
	sink := &recordingSink{}
	q := New(NewMemoryStore(), sink, time.Millisecond, time.Millisecond)
	ctx := context.Background()

	queued, err := q.Enqueue(ctx, item("m-1", models.OpUpload, models.PriorityNormal, time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}

	var terminal bool
	current := queued
	for attempt := 1; attempt <= 3; attempt++ {
		terminal, err = q.RecordFailure(ctx, current, errors.New("timeout"))
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if attempt < 3 {
			if terminal {
				t.Fatalf("attempt %d of 3 should not be terminal", attempt)
			}
			time.Sleep(2 * time.Millisecond)
			batch, err := q.DequeueBatch(ctx, "user-1", 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(batch) != 1 {
				t.Fatalf("attempt %d: expected item re-queued, got %d", attempt, len(batch))
			}
			current = batch[0]
		}
	}

	if !terminal {
		t.Fatal("third failure with maxRetries=3 must be terminal")
	}

	batch, err := q.DequeueBatch(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected item removed after exhaustion, got %d", len(batch))
	}

	failed := sink.ofType(models.EventSyncFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly one terminal SYNC_FAILED event, got %d", len(failed))
	}
	if failed[0].EntityID != "m-1" {
		t.Fatalf("expected event for m-1, got %q", failed[0].EntityID)
	}
}

func TestRecordSuccessRemovesAndEmits(t *testing.T) {
	sink := &recordingSink{}
	q := New(NewMemoryStore(), sink, time.Second, time.Minute)
	ctx := context.Background()

	queued, err := q.Enqueue(ctx, item("m-1", models.OpUpload, models.PriorityNormal, time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.RecordSuccess(ctx, queued); err != nil {
		t.Fatal(err)
	}

	depth, err := q.Depth(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue, got depth %d", depth)
	}
	if len(sink.ofType(models.EventSyncCompleted)) != 1 {
		t.Fatal("expected a SYNC_COMPLETED event")
	}
}
