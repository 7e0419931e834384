package queue

import (
	"context"
	"encoding/json"
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
	return r.db.AutoMigrate(&queueItemModel{})
}

type queueItemModel struct {
	ID             string         `gorm:"primaryKey;column:id"`
	UserID         string         `gorm:"column:user_id;index"`
	EntityID       string         `gorm:"column:entity_id;uniqueIndex:idx_queue_coalesce"`
	Operation      string         `gorm:"column:operation;uniqueIndex:idx_queue_coalesce"`
	TargetPlatform string         `gorm:"column:target_platform;uniqueIndex:idx_queue_coalesce"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	RetryCount     int            `gorm:"column:retry_count"`
	MaxRetries     int            `gorm:"column:max_retries"`
	PriorityRank   int            `gorm:"column:priority_rank;index"`
	Priority       string         `gorm:"column:priority"`
	NotBefore      time.Time      `gorm:"column:not_before;index"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (queueItemModel) TableName() string { return "sync_queue_items" }

func (r *Repository) Find(ctx context.Context, entityID string, op models.SyncOperation, platform string) (*models.SyncQueueItem, error) {
	var row queueItemModel
	result := r.db.WithContext(ctx).
		First(&row, "entity_id = ? AND operation = ? AND target_platform = ?", entityID, string(op), platform)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	item, err := fromQueueModel(row)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) Save(ctx context.Context, item *models.SyncQueueItem) error {
	row, err := toQueueModel(*item)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (r *Repository) Remove(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&queueItemModel{}, "id = ?", id).Error
}

func (r *Repository) Batch(ctx context.Context, userID string, maxSize int, now time.Time) ([]models.SyncQueueItem, error) {
	var rows []queueItemModel
	query := r.db.WithContext(ctx).
		Where("not_before <= ?", now).
		Order("priority_rank asc, created_at asc").
		Limit(maxSize)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]models.SyncQueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := fromQueueModel(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Repository) Count(ctx context.Context, userID string) (int, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&queueItemModel{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func toQueueModel(item models.SyncQueueItem) (queueItemModel, error) {
	payload, err := json.Marshal(item.Metric)
	if err != nil {
		return queueItemModel{}, err
	}
	return queueItemModel{
		ID:             item.ID,
		UserID:         item.UserID,
		EntityID:       item.Metric.ID,
		Operation:      string(item.Operation),
		TargetPlatform: item.TargetPlatform,
		Payload:        payload,
		CreatedAt:      item.CreatedAt,
		RetryCount:     item.RetryCount,
		MaxRetries:     item.MaxRetries,
		PriorityRank:   item.Priority.Rank(),
		Priority:       string(item.Priority),
		NotBefore:      item.NotBefore,
	}, nil
}

func fromQueueModel(row queueItemModel) (models.SyncQueueItem, error) {
	var metric models.HealthMetric
	if err := json.Unmarshal(row.Payload, &metric); err != nil {
		return models.SyncQueueItem{}, err
	}
	return models.SyncQueueItem{
		ID:             row.ID,
		UserID:         row.UserID,
		Operation:      models.SyncOperation(row.Operation),
		Metric:         metric,
		TargetPlatform: row.TargetPlatform,
		CreatedAt:      row.CreatedAt,
		RetryCount:     row.RetryCount,
		MaxRetries:     row.MaxRetries,
		Priority:       models.SyncPriority(row.Priority),
		NotBefore:      row.NotBefore,
	}, nil
}
