package models

import (
	"encoding/json"
	"time"
)

// SyncState tracks where one entity sits in the sync lifecycle.
type SyncState string

const (
	StateSynced          SyncState = "SYNCED"
	StatePendingUpload   SyncState = "PENDING_UPLOAD"
	StatePendingDownload SyncState = "PENDING_DOWNLOAD"
	StateConflict        SyncState = "CONFLICT"
	StateFailed          SyncState = "FAILED"
)

// Pending reports whether the state is one of the two pending states.
func (s SyncState) Pending() bool {
	return s == StatePendingUpload || s == StatePendingDownload
}

// SyncStatus is the per-entity sync record. Version only ever increases.
type SyncStatus struct {
	EntityID         string     `json:"entity_id"`
	EntityType       string     `json:"entity_type"`
	UserID           string     `json:"user_id"`
	State            SyncState  `json:"state"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	LastModifiedTime time.Time  `json:"last_modified_time"`
	DeviceID         string     `json:"device_id"`
	Version          int64      `json:"version"`
	RetryCount       int        `json:"retry_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// SyncConflict captures a detected divergence between the local and remote
// copies of one entity. It exists only between detection and resolution.
type SyncConflict struct {
	EntityID      string          `json:"entity_id"`
	EntityType    string          `json:"entity_type"`
	LocalVersion  int64           `json:"local_version"`
	RemoteVersion int64           `json:"remote_version"`
	LocalData     json.RawMessage `json:"local_data"`
	RemoteData    json.RawMessage `json:"remote_data"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// ConflictResolutionStrategy selects how detected conflicts are settled.
type ConflictResolutionStrategy string

const (
	StrategyLocalWins  ConflictResolutionStrategy = "LOCAL_WINS"
	StrategyCloudWins  ConflictResolutionStrategy = "CLOUD_WINS"
	StrategyLatestWins ConflictResolutionStrategy = "LATEST_WINS"
	StrategyManual     ConflictResolutionStrategy = "MANUAL"
)

// SyncOperation is the kind of work a queue item represents.
type SyncOperation string

const (
	OpUpload   SyncOperation = "UPLOAD"
	OpDownload SyncOperation = "DOWNLOAD"
	OpUpdate   SyncOperation = "UPDATE"
	OpDelete   SyncOperation = "DELETE"
)

// SyncPriority orders queue drainage.
type SyncPriority string

const (
	PriorityLow      SyncPriority = "LOW"
	PriorityNormal   SyncPriority = "NORMAL"
	PriorityHigh     SyncPriority = "HIGH"
	PriorityCritical SyncPriority = "CRITICAL"
)

// Rank maps priorities onto a sortable scale, highest urgency first.
func (p SyncPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// SyncQueueItem is a durable unit of pending sync work.
type SyncQueueItem struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Operation      SyncOperation `json:"operation"`
	Metric         HealthMetric  `json:"metric"`
	TargetPlatform string        `json:"target_platform"`
	CreatedAt      time.Time     `json:"created_at"`
	RetryCount     int           `json:"retry_count"`
	MaxRetries     int           `json:"max_retries"`
	Priority       SyncPriority  `json:"priority"`
	NotBefore      time.Time     `json:"not_before"` // backoff gate
}

// HealthSyncConfig is the per-cycle sync configuration.
type HealthSyncConfig struct {
	EnabledPlatforms    []string                   `json:"enabled_platforms"`
	SyncInterval        time.Duration              `json:"sync_interval"`
	BatchSize           int                        `json:"batch_size"`
	MaxRetries          int                        `json:"max_retries"`
	ConflictStrategy    ConflictResolutionStrategy `json:"conflict_strategy"`
	EnableOfflineCache  bool                       `json:"enable_offline_cache"`
	EnableValidation    bool                       `json:"enable_data_validation"`
	EnableBidirectional bool                       `json:"enable_bidirectional_sync"`
}

// PlatformSyncStatus reports how one platform fared in a cycle.
type PlatformSyncStatus struct {
	Platform           string             `json:"platform"`
	Available          bool               `json:"available"`
	Connected          bool               `json:"connected"`
	LastSyncTime       *time.Time         `json:"last_sync_time,omitempty"`
	State              SyncState          `json:"state"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	SyncedMetricsCount int                `json:"synced_metrics_count"`
	SupportedTypes     []HealthMetricType `json:"supported_types,omitempty"`
}

// SyncResultKind tags HealthSyncResult. Callers must be able to tell "nothing
// happened" apart from "some records succeeded, some failed".
type SyncResultKind string

const (
	ResultSuccess        SyncResultKind = "SUCCESS"
	ResultPartialSuccess SyncResultKind = "PARTIAL_SUCCESS"
	ResultError          SyncResultKind = "ERROR"
)

// HealthSyncResult is the cycle-level outcome.
type HealthSyncResult struct {
	Kind               SyncResultKind       `json:"kind"`
	SyncedMetricsCount int                  `json:"synced_metrics_count"`
	FailedMetricsCount int                  `json:"failed_metrics_count"`
	PlatformStatuses   []PlatformSyncStatus `json:"platform_statuses,omitempty"`
	Errors             []string             `json:"errors,omitempty"`
	Message            string               `json:"message,omitempty"`
	PartialData        []HealthMetric       `json:"partial_data,omitempty"`
	SyncTimestamp      time.Time            `json:"sync_timestamp"`
}

// SyncStats is the per-user summary the UI renders at all times.
type SyncStats struct {
	Synced          int        `json:"synced"`
	PendingUpload   int        `json:"pending_upload"`
	PendingDownload int        `json:"pending_download"`
	Conflicts       int        `json:"conflicts"`
	Failed          int        `json:"failed"`
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
}

// SyncEventType enumerates observable sync events.
type SyncEventType string

const (
	EventSyncStarted          SyncEventType = "SYNC_STARTED"
	EventSyncCompleted        SyncEventType = "SYNC_COMPLETED"
	EventSyncFailed           SyncEventType = "SYNC_FAILED"
	EventConflictDetected     SyncEventType = "CONFLICT_DETECTED"
	EventConflictResolved     SyncEventType = "CONFLICT_RESOLVED"
	EventDataValidated        SyncEventType = "DATA_VALIDATED"
	EventPlatformConnected    SyncEventType = "PLATFORM_CONNECTED"
	EventPlatformDisconnected SyncEventType = "PLATFORM_DISCONNECTED"
	EventPermissionGranted    SyncEventType = "PERMISSION_GRANTED"
	EventPermissionDenied     SyncEventType = "PERMISSION_DENIED"
)

// SyncEvent is an append-only observability record. The coordinator emits
// them fire-and-forget; nothing in the sync core reads them back.
type SyncEvent struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Type       SyncEventType    `json:"type"`
	Platform   string           `json:"platform,omitempty"`
	MetricType HealthMetricType `json:"metric_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Details    string           `json:"details,omitempty"`
	Success    bool             `json:"success"`
}

// ValidationErrorType categorises per-record validation failures.
type ValidationErrorType string

const (
	ValidationMissingField     ValidationErrorType = "MISSING_REQUIRED_FIELD"
	ValidationValueRange       ValidationErrorType = "INVALID_VALUE_RANGE"
	ValidationInvalidTimestamp ValidationErrorType = "INVALID_TIMESTAMP"
	ValidationInvalidUnit      ValidationErrorType = "INVALID_UNIT"
	ValidationInvalidDataType  ValidationErrorType = "INVALID_DATA_TYPE"
	ValidationDuplicateEntry   ValidationErrorType = "DUPLICATE_ENTRY"
	ValidationInconsistentData ValidationErrorType = "INCONSISTENT_DATA"
)

// HealthDataValidationError is non-fatal: the offending record is skipped
// and the rest of the batch proceeds.
type HealthDataValidationError struct {
	MetricID string              `json:"metric_id"`
	Type     ValidationErrorType `json:"type"`
	Message  string              `json:"message"`
	Field    string              `json:"field,omitempty"`
}

// HealthDataCacheEntry is an offline cache record for one metric.
type HealthDataCacheEntry struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Metric    HealthMetric `json:"metric"`
	CachedAt  time.Time    `json:"cached_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	State     SyncState    `json:"state"`
	Checksum  string       `json:"checksum"`
}

// HealthSyncMetrics is a counters snapshot for monitoring.
type HealthSyncMetrics struct {
	TotalSyncOperations  int64     `json:"total_sync_operations"`
	SuccessfulSyncs      int64     `json:"successful_syncs"`
	FailedSyncs          int64     `json:"failed_syncs"`
	ConflictsDetected    int64     `json:"conflicts_detected"`
	ConflictsResolved    int64     `json:"conflicts_resolved"`
	DataValidationErrors int64     `json:"data_validation_errors"`
	LastUpdated          time.Time `json:"last_updated"`
}
