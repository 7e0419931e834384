package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/cloud"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/beaconledger/welltrack-sync/pkg/coordinator"
	"github.com/beaconledger/welltrack-sync/pkg/queue"
	"github.com/beaconledger/welltrack-sync/pkg/tracker"
	"github.com/beaconledger/welltrack-sync/pkg/validation"
	"github.com/gorilla/mux"
)

type stubCloud struct{}

func (stubCloud) Pull(context.Context, string, time.Time) ([]cloud.RemoteRecord, error) {
	return nil, nil
}

func (stubCloud) Push(_ context.Context, _ string, records []cloud.RemoteRecord) ([]cloud.PushOutcome, error) {
	outcomes := make([]cloud.PushOutcome, 0, len(records))
	for _, rec := range records {
		outcomes = append(outcomes, cloud.PushOutcome{EntityID: rec.EntityID, Accepted: true, Version: rec.Version})
	}
	return outcomes, nil
}

type stubSnapshots struct {
	mu      sync.Mutex
	entries map[string]models.HealthDataCacheEntry
}

func (s *stubSnapshots) Put(_ context.Context, metric models.HealthMetric, state models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]models.HealthDataCacheEntry)
	}
	s.entries[metric.ID] = models.HealthDataCacheEntry{ID: metric.ID, Metric: metric, State: state}
	return nil
}

func (s *stubSnapshots) Get(_ context.Context, _, metricID string) (*models.HealthDataCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[metricID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &entry, nil
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	coord := coordinator.New(coordinator.Deps{
		Tracker:   tracker.New(tracker.NewMemoryStore()),
		Queue:     queue.New(queue.NewMemoryStore(), nil, time.Second, time.Minute),
		Validator: validation.NewValidator(validation.DefaultRules()),
		Cloud:     stubCloud{},
		Snapshots: &stubSnapshots{},
		Config: models.HealthSyncConfig{
			BatchSize:        10,
			MaxRetries:       3,
			ConflictStrategy: models.StrategyLatestWins,
			EnableValidation: true,
		},
	})

	router := mux.NewRouter()
	NewHTTPHandler(coord, nil, 1<<20).Register(router)
	return router
}

func TestRecordMetricAcceptsValidPayload(t *testing.T) {
	router := newTestRouter(t)

	metric := models.HealthMetric{
		ID:        "m-1",
		Type:      models.MetricSteps,
		Value:     7500,
		Unit:      "steps",
		Timestamp: time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}
	body, _ := json.Marshal(metric)

	req := httptest.NewRequest(http.MethodPost, "/metrics/user-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRecordMetricRejectsOutOfRange(t *testing.T) {
	router := newTestRouter(t)

	metric := models.HealthMetric{
		ID:        "m-1",
		Type:      models.MetricHeartRate,
		Value:     -5,
		Unit:      "bpm",
		Timestamp: time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}
	body, _ := json.Marshal(metric)

	req := httptest.NewRequest(http.MethodPost, "/metrics/user-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var detail models.HealthDataValidationError
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("expected categorised error body: %v", err)
	}
	if detail.Type != models.ValidationValueRange {
		t.Fatalf("expected INVALID_VALUE_RANGE, got %s", detail.Type)
	}
}

func TestStatusReportsStatsAndQueueDepth(t *testing.T) {
	router := newTestRouter(t)

	metric := models.HealthMetric{
		ID:        "m-1",
		Type:      models.MetricSteps,
		Value:     7500,
		Unit:      "steps",
		Timestamp: time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}
	body, _ := json.Marshal(metric)
	req := httptest.NewRequest(http.MethodPost, "/metrics/user-1", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/sync/user-1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Stats.PendingUpload != 1 {
		t.Fatalf("expected one pending upload, got %+v", resp.Stats)
	}
	if resp.QueueDepth != 1 {
		t.Fatalf("expected queue depth 1, got %d", resp.QueueDepth)
	}
}

func TestResolveUnknownConflictReturns404(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(resolveRequest{Strategy: models.StrategyCloudWins})
	req := httptest.NewRequest(http.MethodPost, "/sync/user-1/conflicts/m-404/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResolveRejectsManualStrategy(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(resolveRequest{Strategy: models.StrategyManual})
	req := httptest.NewRequest(http.MethodPost, "/sync/user-1/conflicts/m-1/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
