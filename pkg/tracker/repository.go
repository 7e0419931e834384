package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&syncStatusModel{}, &syncConflictModel{}, &fetchWatermarkModel{})
}

type syncStatusModel struct {
	EntityID         string     `gorm:"primaryKey;column:entity_id"`
	EntityType       string     `gorm:"column:entity_type;index"`
	UserID           string     `gorm:"column:user_id;index"`
	State            string     `gorm:"column:state;index"`
	LastSyncTime     *time.Time `gorm:"column:last_sync_time"`
	LastModifiedTime time.Time  `gorm:"column:last_modified_time"`
	DeviceID         string     `gorm:"column:device_id"`
	Version          int64      `gorm:"column:version"`
	RetryCount       int        `gorm:"column:retry_count"`
	ErrorMessage     string     `gorm:"column:error_message"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (syncStatusModel) TableName() string { return "sync_statuses" }

type syncConflictModel struct {
	EntityID      string         `gorm:"primaryKey;column:entity_id"`
	EntityType    string         `gorm:"column:entity_type"`
	UserID        string         `gorm:"column:user_id;index"`
	LocalVersion  int64          `gorm:"column:local_version"`
	RemoteVersion int64          `gorm:"column:remote_version"`
	LocalData     datatypes.JSON `gorm:"column:local_data"`
	RemoteData    datatypes.JSON `gorm:"column:remote_data"`
	DetectedAt    time.Time      `gorm:"column:detected_at"`
}

func (syncConflictModel) TableName() string { return "sync_conflicts" }

type fetchWatermarkModel struct {
	UserID    string    `gorm:"primaryKey;column:user_id"`
	Source    string    `gorm:"primaryKey;column:source"`
	FetchedAt time.Time `gorm:"column:fetched_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (fetchWatermarkModel) TableName() string { return "sync_fetch_watermarks" }

func (r *Repository) Get(ctx context.Context, entityID string) (*models.SyncStatus, error) {
	var row syncStatusModel
	result := r.db.WithContext(ctx).First(&row, "entity_id = ?", entityID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	status := fromStatusModel(row)
	return &status, nil
}

func (r *Repository) Save(ctx context.Context, status *models.SyncStatus) error {
	row := toStatusModel(*status)
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (r *Repository) Delete(ctx context.Context, entityID string) error {
	return r.db.WithContext(ctx).Delete(&syncStatusModel{}, "entity_id = ?", entityID).Error
}

func (r *Repository) ListByStates(ctx context.Context, userID string, states ...models.SyncState) ([]models.SyncStatus, error) {
	raw := make([]string, len(states))
	for i, s := range states {
		raw[i] = string(s)
	}

	var rows []syncStatusModel
	query := r.db.WithContext(ctx).Where("state IN ?", raw)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("last_modified_time asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	statuses := make([]models.SyncStatus, len(rows))
	for i, row := range rows {
		statuses[i] = fromStatusModel(row)
	}
	return statuses, nil
}

func (r *Repository) CountByState(ctx context.Context, userID string) (map[models.SyncState]int, error) {
	type stateCount struct {
		State string
		Count int
	}

	var rows []stateCount
	query := r.db.WithContext(ctx).Model(&syncStatusModel{}).
		Select("state, count(*) as count").
		Group("state")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[models.SyncState]int, len(rows))
	for _, row := range rows {
		counts[models.SyncState(row.State)] = row.Count
	}
	return counts, nil
}

// UsersWithPendingWork lists users holding entities in a non-terminal state,
// the candidate set for a scheduled sync cycle.
func (r *Repository) UsersWithPendingWork(ctx context.Context) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&syncStatusModel{}).
		Where("state IN ?", []string{
			string(models.StatePendingUpload),
			string(models.StatePendingDownload),
			string(models.StateFailed),
		}).
		Distinct("user_id").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *Repository) SaveConflict(ctx context.Context, conflict *models.SyncConflict) error {
	row := syncConflictModel{
		EntityID:      conflict.EntityID,
		EntityType:    conflict.EntityType,
		LocalVersion:  conflict.LocalVersion,
		RemoteVersion: conflict.RemoteVersion,
		LocalData:     datatypes.JSON(conflict.LocalData),
		RemoteData:    datatypes.JSON(conflict.RemoteData),
		DetectedAt:    conflict.DetectedAt,
	}

	// Carry the owning user over from the status row for per-user listing.
	var status syncStatusModel
	if err := r.db.WithContext(ctx).First(&status, "entity_id = ?", conflict.EntityID).Error; err == nil {
		row.UserID = status.UserID
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (r *Repository) GetConflict(ctx context.Context, entityID string) (*models.SyncConflict, error) {
	var row syncConflictModel
	result := r.db.WithContext(ctx).First(&row, "entity_id = ?", entityID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	conflict := fromConflictModel(row)
	return &conflict, nil
}

func (r *Repository) DeleteConflict(ctx context.Context, entityID string) error {
	return r.db.WithContext(ctx).Delete(&syncConflictModel{}, "entity_id = ?", entityID).Error
}

func (r *Repository) ListConflicts(ctx context.Context, userID string) ([]models.SyncConflict, error) {
	var rows []syncConflictModel
	query := r.db.WithContext(ctx)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("detected_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	conflicts := make([]models.SyncConflict, len(rows))
	for i, row := range rows {
		conflicts[i] = fromConflictModel(row)
	}
	return conflicts, nil
}

func (r *Repository) GetWatermark(ctx context.Context, userID, source string) (time.Time, error) {
	var row fetchWatermarkModel
	result := r.db.WithContext(ctx).First(&row, "user_id = ? AND source = ?", userID, source)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if result.Error != nil {
		return time.Time{}, result.Error
	}
	return row.FetchedAt, nil
}

func (r *Repository) SaveWatermark(ctx context.Context, userID, source string, at time.Time) error {
	row := fetchWatermarkModel{
		UserID:    userID,
		Source:    source,
		FetchedAt: at,
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "source"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func toStatusModel(s models.SyncStatus) syncStatusModel {
	return syncStatusModel{
		EntityID:         s.EntityID,
		EntityType:       s.EntityType,
		UserID:           s.UserID,
		State:            string(s.State),
		LastSyncTime:     s.LastSyncTime,
		LastModifiedTime: s.LastModifiedTime,
		DeviceID:         s.DeviceID,
		Version:          s.Version,
		RetryCount:       s.RetryCount,
		ErrorMessage:     s.ErrorMessage,
	}
}

func fromStatusModel(row syncStatusModel) models.SyncStatus {
	return models.SyncStatus{
		EntityID:         row.EntityID,
		EntityType:       row.EntityType,
		UserID:           row.UserID,
		State:            models.SyncState(row.State),
		LastSyncTime:     row.LastSyncTime,
		LastModifiedTime: row.LastModifiedTime,
		DeviceID:         row.DeviceID,
		Version:          row.Version,
		RetryCount:       row.RetryCount,
		ErrorMessage:     row.ErrorMessage,
	}
}

func fromConflictModel(row syncConflictModel) models.SyncConflict {
	return models.SyncConflict{
		EntityID:      row.EntityID,
		EntityType:    row.EntityType,
		LocalVersion:  row.LocalVersion,
		RemoteVersion: row.RemoteVersion,
		LocalData:     []byte(row.LocalData),
		RemoteData:    []byte(row.RemoteData),
		DetectedAt:    row.DetectedAt,
	}
}
