package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/beaconledger/welltrack-sync/pkg/coordinator"
	"github.com/beaconledger/welltrack-sync/pkg/tracker"
	"github.com/beaconledger/welltrack-sync/pkg/validation"
	"github.com/gorilla/mux"
)

// OfflineCacheReader is the read side of the offline cache, for serving
// metrics while the cloud store is unreachable.
type OfflineCacheReader interface {
	ListUser(ctx context.Context, userID string) ([]models.HealthDataCacheEntry, error)
	Delete(ctx context.Context, userID, metricID string) error
}

type HTTPHandler struct {
	coord   *coordinator.Coordinator
	cache   OfflineCacheReader
	maxBody int64
}

func NewHTTPHandler(coord *coordinator.Coordinator, cache OfflineCacheReader, maxBody int64) *HTTPHandler {
	return &HTTPHandler{coord: coord, cache: cache, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/sync/{userId}", h.handleTriggerSync).Methods(http.MethodPost)
	router.HandleFunc("/sync/{userId}/status", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/sync/{userId}/pending", h.handlePending).Methods(http.MethodGet)
	router.HandleFunc("/sync/{userId}/conflicts", h.handleConflicts).Methods(http.MethodGet)
	router.HandleFunc("/sync/{userId}/conflicts/{entityId}/resolve", h.handleResolve).Methods(http.MethodPost)
	router.HandleFunc("/metrics/{userId}", h.handleRecordMetric).Methods(http.MethodPost)
	router.HandleFunc("/metrics/{userId}/cached", h.handleCachedMetrics).Methods(http.MethodGet)
	router.HandleFunc("/metrics/{userId}/{entityId}", h.handleDeleteMetric).Methods(http.MethodDelete)
}

func (h *HTTPHandler) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	result, err := h.coord.SyncUser(r.Context(), userID)
	if errors.Is(err, coordinator.ErrSyncInProgress) {
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	}
	// A cycle that ran but hit errors still reports its result body; the
	// caller reads the kind field.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

type statusResponse struct {
	Stats      models.SyncStats `json:"stats"`
	QueueDepth int              `json:"queue_depth"`
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	stats, depth, err := h.coord.Status(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch sync status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{Stats: stats, QueueDepth: depth})
}

func (h *HTTPHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	pending, err := h.coord.PendingEntities(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list pending entities")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []models.SyncStatus{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pending)
}

func (h *HTTPHandler) handleCachedMetrics(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "offline cache disabled", http.StatusNotFound)
		return
	}
	userID := mux.Vars(r)["userId"]

	entries, err := h.cache.ListUser(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to read offline cache")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.HealthDataCacheEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *HTTPHandler) handleDeleteMetric(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	entityID := vars["entityId"]

	if err := h.coord.Forget(r.Context(), entityID); err != nil && !errors.Is(err, tracker.ErrNotFound) {
		logger.Log.WithError(err).Error("failed to drop sync tracking")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		if err := h.cache.Delete(r.Context(), userID, entityID); err != nil {
			logger.Log.WithError(err).Warn("failed to evict cached metric")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleConflicts(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	conflicts, err := h.coord.Conflicts(r.Context(), userID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list conflicts")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conflicts == nil {
		conflicts = []models.SyncConflict{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conflicts)
}

type resolveRequest struct {
	Strategy models.ConflictResolutionStrategy `json:"strategy"`
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	entityID := vars["entityId"]

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Strategy {
	case models.StrategyLocalWins, models.StrategyCloudWins, models.StrategyLatestWins:
	default:
		http.Error(w, "strategy must be LOCAL_WINS, CLOUD_WINS or LATEST_WINS", http.StatusBadRequest)
		return
	}

	if err := h.coord.ResolveManual(r.Context(), userID, entityID, req.Strategy); err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			http.Error(w, "conflict not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to resolve conflict")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleRecordMetric(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var metric models.HealthMetric
	if err := json.NewDecoder(r.Body).Decode(&metric); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	metric.UserID = userID
	if metric.Source == "" {
		metric.Source = models.SourceManualEntry
	}

	if err := h.coord.RecordLocalMetric(r.Context(), metric); err != nil {
		if detail, ok := validation.AsValidationError(err); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(detail)
			return
		}
		if errors.Is(err, tracker.ErrInvalidTransition) {
			http.Error(w, "entity has an unresolved conflict", http.StatusConflict)
			return
		}
		logger.Log.WithError(err).Error("failed to record metric")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
