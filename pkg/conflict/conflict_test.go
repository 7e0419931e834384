package conflict

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

func snapshot(t *testing.T, value float64, modified time.Time) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"value":              value,
		"last_modified_time": modified.UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDetectEqualVersionsAcceptsRemote(t *testing.T) {
	d := NewDetector(false)
	now := time.Now().UTC()
	syncTime := now.Add(-time.Hour)

	local := models.SyncStatus{
		EntityID:         "m-1",
		EntityType:       "health_metric",
		State:            models.StateSynced,
		Version:          3,
		LastSyncTime:     &syncTime,
		LastModifiedTime: syncTime,
	}

	det := d.Detect(local, snapshot(t, 70, syncTime), snapshot(t, 72, now), 3, now)
	if det.Decision != AcceptRemote {
		t.Fatalf("expected AcceptRemote, got %v", det.Decision)
	}
}

func TestDetectEqualVersionsKeepsNewerLocalWhenBidirectional(t *testing.T) {
	d := NewDetector(true)
	now := time.Now().UTC()
	syncTime := now.Add(-2 * time.Hour)

	local := models.SyncStatus{
		EntityID:         "m-1",
		State:            models.StatePendingUpload,
		Version:          3,
		LastSyncTime:     &syncTime,
		LastModifiedTime: now,
	}

	det := d.Detect(local, snapshot(t, 70, now), snapshot(t, 72, syncTime), 3, syncTime)
	if det.Decision != KeepLocal {
		t.Fatalf("expected KeepLocal, got %v", det.Decision)
	}
}

func TestDetectDivergedVersionsWithLocalChangesConflicts(t *testing.T) {
	d := NewDetector(true)
	now := time.Now().UTC()
	syncTime := now.Add(-time.Hour)

	local := models.SyncStatus{
		EntityID:         "m-1",
		EntityType:       "health_metric",
		State:            models.StatePendingUpload,
		Version:          2,
		LastSyncTime:     &syncTime,
		LastModifiedTime: now,
	}

	det := d.Detect(local, snapshot(t, 70, now), snapshot(t, 72, now), 5, now)
	if det.Decision != Conflicted {
		t.Fatalf("expected Conflicted, got %v", det.Decision)
	}
	if det.Conflict == nil {
		t.Fatal("expected a conflict record")
	}
	if det.Conflict.LocalVersion != 2 || det.Conflict.RemoteVersion != 5 {
		t.Fatalf("conflict versions wrong: %+v", det.Conflict)
	}
}

func TestDetectRemoteAheadCleanLocalDownloads(t *testing.T) {
	d := NewDetector(true)
	now := time.Now().UTC()
	syncTime := now.Add(-time.Hour)

	local := models.SyncStatus{
		EntityID:         "m-1",
		State:            models.StateSynced,
		Version:          2,
		LastSyncTime:     &syncTime,
		LastModifiedTime: syncTime,
	}

	det := d.Detect(local, snapshot(t, 70, syncTime), snapshot(t, 72, now), 5, now)
	if det.Decision != AcceptRemote {
		t.Fatalf("expected AcceptRemote for clean local, got %v", det.Decision)
	}
}

func TestResolveAutomaticStrategiesAlwaysTerminate(t *testing.T) {
	now := time.Now().UTC()
	conflict := models.SyncConflict{
		EntityID:      "m-1",
		LocalVersion:  2,
		RemoteVersion: 5,
		LocalData:     snapshot(t, 70, now),
		RemoteData:    snapshot(t, 72, now.Add(-time.Hour)),
		DetectedAt:    now,
	}

	for _, strategy := range []models.ConflictResolutionStrategy{
		models.StrategyLocalWins,
		models.StrategyCloudWins,
		models.StrategyLatestWins,
	} {
		outcome, err := Resolve(conflict, strategy)
		if err != nil {
			t.Fatalf("%s: %v", strategy, err)
		}
		if !outcome.Resolved {
			t.Fatalf("%s: automatic strategy left conflict unresolved", strategy)
		}
		if outcome.NextState == models.StateConflict {
			t.Fatalf("%s: resolution may not stay in CONFLICT", strategy)
		}
	}
}

func TestResolveCloudWinsTakesRemoteData(t *testing.T) {
	now := time.Now().UTC()
	conflict := models.SyncConflict{
		LocalData:  snapshot(t, 70, now),
		RemoteData: snapshot(t, 72, now),
	}

	outcome, err := Resolve(conflict, models.StrategyCloudWins)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Winner != WinnerRemote {
		t.Fatalf("expected remote winner, got %s", outcome.Winner)
	}
	if outcome.NextState != models.StateSynced {
		t.Fatalf("expected SYNCED, got %s", outcome.NextState)
	}
	if string(outcome.Data) != string(conflict.RemoteData) {
		t.Fatal("expected remote snapshot as outcome data")
	}
}

func TestResolveLatestWinsPrefersNewerAndBreaksTiesRemote(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	newerLocal := models.SyncConflict{
		LocalData:  snapshot(t, 70, now),
		RemoteData: snapshot(t, 72, now.Add(-time.Minute)),
	}
	outcome, err := Resolve(newerLocal, models.StrategyLatestWins)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Winner != WinnerLocal {
		t.Fatalf("expected local winner for newer local, got %s", outcome.Winner)
	}
	if outcome.NextState != models.StatePendingUpload {
		t.Fatalf("expected re-push of winning local copy, got %s", outcome.NextState)
	}

	tied := models.SyncConflict{
		LocalData:  snapshot(t, 70, now),
		RemoteData: snapshot(t, 72, now),
	}
	outcome, err = Resolve(tied, models.StrategyLatestWins)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Winner != WinnerRemote {
		t.Fatalf("expected tie to prefer remote, got %s", outcome.Winner)
	}
}

func TestResolveManualLeavesConflictStanding(t *testing.T) {
	outcome, err := Resolve(models.SyncConflict{}, models.StrategyManual)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Resolved {
		t.Fatal("manual strategy must not auto-resolve")
	}
	if outcome.NextState != models.StateConflict {
		t.Fatalf("expected CONFLICT to remain, got %s", outcome.NextState)
	}
}

func TestDeduplicateCollapsesNearDuplicates(t *testing.T) {
	now := time.Now().UTC()
	metrics := []models.HealthMetric{
		{ID: "g", UserID: "u", Type: models.MetricSteps, Value: 10000, Source: models.SourceHealthConnect, Timestamp: now.Format(time.RFC3339)},
		{ID: "h", UserID: "u", Type: models.MetricSteps, Value: 10100, Source: models.SourceGarmin, Timestamp: now.Add(5 * time.Minute).Format(time.RFC3339)},
	}

	out := Deduplicate(metrics)
	if len(out) != 1 {
		t.Fatalf("expected 1 metric after dedupe, got %d", len(out))
	}
	if out[0].Source != models.SourceGarmin {
		t.Fatalf("expected the more reliable source to win, got %s", out[0].Source)
	}
}

func TestDeduplicateKeepsDivergentReadings(t *testing.T) {
	now := time.Now().UTC()
	metrics := []models.HealthMetric{
		{ID: "a", UserID: "u", Type: models.MetricHeartRate, Value: 60, Source: models.SourceGarmin, Timestamp: now.Format(time.RFC3339)},
		{ID: "b", UserID: "u", Type: models.MetricHeartRate, Value: 150, Source: models.SourceHealthConnect, Timestamp: now.Add(time.Minute).Format(time.RFC3339)},
	}

	out := Deduplicate(metrics)
	if len(out) != 2 {
		t.Fatalf("expected divergent readings kept, got %d", len(out))
	}
}

func TestDeduplicateSeparatesTimeWindows(t *testing.T) {
	now := time.Now().UTC()
	var metrics []models.HealthMetric
	for i := 0; i < 3; i++ {
		metrics = append(metrics, models.HealthMetric{
			ID:        fmt.Sprintf("m-%d", i),
			UserID:    "u",
			Type:      models.MetricHeartRate,
			Value:     70,
			Source:    models.SourceGarmin,
			Timestamp: now.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}

	out := Deduplicate(metrics)
	if len(out) != 3 {
		t.Fatalf("expected hourly readings kept separate, got %d", len(out))
	}
}
