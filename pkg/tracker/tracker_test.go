package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

func TestMarkPendingCreatesStatus(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	status, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a")
	if err != nil {
		t.Fatalf("mark pending upload: %v", err)
	}
	if status.State != models.StatePendingUpload {
		t.Fatalf("expected PENDING_UPLOAD, got %s", status.State)
	}
	if status.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", status.Version)
	}
}

func TestVersionIsMonotonic(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		status, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a")
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if status.Version < last {
			t.Fatalf("version decreased from %d to %d", last, status.Version)
		}
		last = status.Version

		if err := tr.MarkSynced(ctx, "metric-1", time.Now().UTC(), 0); err != nil {
			t.Fatalf("mark synced: %v", err)
		}
		status, err = tr.Get(ctx, "metric-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if status.Version < last {
			t.Fatalf("version decreased after sync from %d to %d", last, status.Version)
		}
		last = status.Version
	}
}

func TestMarkSyncedRequiresPendingState(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); err != nil {
		t.Fatal(err)
	}
	if err := tr.MarkSynced(ctx, "metric-1", time.Now().UTC(), 2); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	err := tr.MarkSynced(ctx, "metric-1", time.Now().UTC(), 3)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from SYNCED, got %v", err)
	}
}

func TestMarkSyncedClearsRetryState(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.MarkFailed(ctx, "metric-1", "network unreachable"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Retry(ctx, "metric-1", models.StatePendingUpload); err != nil {
		t.Fatal(err)
	}
	if err := tr.MarkSynced(ctx, "metric-1", time.Now().UTC(), 0); err != nil {
		t.Fatal(err)
	}

	status, err := tr.Get(ctx, "metric-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.RetryCount != 0 || status.ErrorMessage != "" {
		t.Fatalf("expected retry state cleared, got count=%d msg=%q", status.RetryCount, status.ErrorMessage)
	}
	if status.LastSyncTime == nil {
		t.Fatal("expected last sync time to be set")
	}
}

func TestMarkFailedRequiresReason(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.MarkFailed(ctx, "metric-1", ""); err == nil {
		t.Fatal("expected empty failure reason to be rejected")
	}
}

func TestMarkFailedIncrementsRetryCount(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); err != nil {
		t.Fatal(err)
	}

	for want := 1; want <= 3; want++ {
		count, err := tr.MarkFailed(ctx, "metric-1", "timeout")
		if err != nil {
			t.Fatalf("attempt %d: %v", want, err)
		}
		if count != want {
			t.Fatalf("expected retry count %d, got %d", want, count)
		}
		if want < 3 {
			if err := tr.Retry(ctx, "metric-1", models.StatePendingUpload); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestConflictBlocksPendingUntilResolved(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); err != nil {
		t.Fatal(err)
	}

	conflict := models.SyncConflict{
		EntityID:      "metric-1",
		EntityType:    "health_metric",
		LocalVersion:  2,
		RemoteVersion: 3,
		LocalData:     []byte(`{"value":70}`),
		RemoteData:    []byte(`{"value":72}`),
	}
	if err := tr.MarkConflict(ctx, "metric-1", conflict); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}

	if _, err := tr.MarkPendingUpload(ctx, "user-1", "metric-1", "health_metric", "device-a"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending to be rejected while conflicted, got %v", err)
	}

	stored, err := tr.Conflict(ctx, "metric-1")
	if err != nil {
		t.Fatalf("expected stored conflict: %v", err)
	}
	if stored.RemoteVersion != 3 {
		t.Fatalf("expected remote version 3, got %d", stored.RemoteVersion)
	}

	if err := tr.ResolveConflict(ctx, "metric-1", models.StateSynced, time.Now().UTC()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	status, err := tr.Get(ctx, "metric-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != models.StateSynced {
		t.Fatalf("expected SYNCED after resolution, got %s", status.State)
	}
	if _, err := tr.Conflict(ctx, "metric-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected conflict record removed, got %v", err)
	}
}

func TestFetchWatermarksArePerSourceAndMonotonic(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	since, err := tr.LastFetch(ctx, "user-1", "garmin")
	if err != nil {
		t.Fatal(err)
	}
	if !since.IsZero() {
		t.Fatalf("expected zero watermark before any fetch, got %v", since)
	}

	first := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	if err := tr.RecordFetch(ctx, "user-1", "garmin", first); err != nil {
		t.Fatal(err)
	}

	// An older completion must not move the watermark backwards.
	if err := tr.RecordFetch(ctx, "user-1", "garmin", first.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	since, err = tr.LastFetch(ctx, "user-1", "garmin")
	if err != nil {
		t.Fatal(err)
	}
	if !since.Equal(first) {
		t.Fatalf("expected watermark %v, got %v", first, since)
	}

	// Other sources of the same user keep their own position.
	other, err := tr.LastFetch(ctx, "user-1", "cloud")
	if err != nil {
		t.Fatal(err)
	}
	if !other.IsZero() {
		t.Fatalf("expected independent zero watermark for cloud, got %v", other)
	}
}

func TestStatsCountsByState(t *testing.T) {
	tr := New(NewMemoryStore())
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := tr.MarkPendingUpload(ctx, "user-1", id, "health_metric", "dev"); err != nil {
			t.Fatal(err)
		}
		if err := tr.MarkSynced(ctx, id, time.Now().UTC(), 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tr.MarkPendingUpload(ctx, "user-1", "c", "health_metric", "dev"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.MarkPendingDownload(ctx, "user-2", "d", "health_metric", "dev"); err != nil {
		t.Fatal(err)
	}

	stats, err := tr.Stats(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Synced != 2 || stats.PendingUpload != 1 || stats.PendingDownload != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastSyncTime == nil {
		t.Fatal("expected last sync time in stats")
	}
}
