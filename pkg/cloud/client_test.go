package cloud

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

func TestRecordFromMetricCarriesTimestampAndSnapshot(t *testing.T) {
	recorded := time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC)
	metric := models.HealthMetric{
		ID:        "m-1",
		UserID:    "user-1",
		Type:      models.MetricWeight,
		Value:     82.5,
		Unit:      "kg",
		Timestamp: recorded.Format(time.RFC3339),
		Source:    models.SourceManualEntry,
	}

	rec, err := RecordFromMetric(metric, 4)
	if err != nil {
		t.Fatal(err)
	}
	if rec.EntityID != "m-1" || rec.Version != 4 {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
	if !rec.ModifiedAt.Equal(recorded) {
		t.Fatalf("expected modified at %v, got %v", recorded, rec.ModifiedAt)
	}

	var roundTripped models.HealthMetric
	if err := json.Unmarshal(rec.Data, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if roundTripped.Value != 82.5 {
		t.Fatalf("expected snapshot value 82.5, got %g", roundTripped.Value)
	}
}

func TestRecordFromMetricDefaultsMalformedTimestamp(t *testing.T) {
	metric := models.HealthMetric{
		ID:        "m-2",
		UserID:    "user-1",
		Type:      models.MetricSteps,
		Value:     4000,
		Unit:      "steps",
		Timestamp: "yesterday-ish",
	}

	before := time.Now().UTC()
	rec, err := RecordFromMetric(metric, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ModifiedAt.IsZero() {
		t.Fatal("expected a non-zero modified time for a malformed timestamp")
	}
	if rec.ModifiedAt.Before(before.Add(-time.Minute)) {
		t.Fatalf("expected modified time near now, got %v", rec.ModifiedAt)
	}
}
