package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound         = errors.New("cache entry not found")
	ErrChecksumMismatch = errors.New("cache entry failed checksum verification")
)

// OfflineCache keeps the most recent copy of each metric in redis so reads
// keep working while the cloud store is unreachable. Entries expire on TTL
// and every read is verified against the stored checksum.
type OfflineCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOfflineCache(client *redis.Client, ttl time.Duration) *OfflineCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OfflineCache{client: client, ttl: ttl}
}

func cacheKey(userID, metricID string) string {
	return fmt.Sprintf("welltrack:cache:%s:%s", userID, metricID)
}

func checksum(metric models.HealthMetric) (string, error) {
	data, err := json.Marshal(metric)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Put stores the metric alongside its sync state and a content checksum.
func (c *OfflineCache) Put(ctx context.Context, metric models.HealthMetric, state models.SyncState) error {
	sum, err := checksum(metric)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := models.HealthDataCacheEntry{
		ID:        metric.ID,
		UserID:    metric.UserID,
		Metric:    metric,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
		State:     state,
		Checksum:  sum,
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(metric.UserID, metric.ID), payload, c.ttl).Err()
}

// Get loads a cached metric, rejecting entries whose payload no longer
// matches the checksum written at cache time.
func (c *OfflineCache) Get(ctx context.Context, userID, metricID string) (*models.HealthDataCacheEntry, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID, metricID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry models.HealthDataCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}

	sum, err := checksum(entry.Metric)
	if err != nil {
		return nil, err
	}
	if sum != entry.Checksum {
		logger.Log.WithFields(map[string]interface{}{
			"user_id":   userID,
			"metric_id": metricID,
		}).Warn("discarding corrupted cache entry")
		c.client.Del(ctx, cacheKey(userID, metricID))
		return nil, ErrChecksumMismatch
	}
	return &entry, nil
}

// ListUser scans all cached entries for a user. Corrupted entries are
// dropped rather than returned.
func (c *OfflineCache) ListUser(ctx context.Context, userID string) ([]models.HealthDataCacheEntry, error) {
	var entries []models.HealthDataCacheEntry

	iter := c.client.Scan(ctx, 0, cacheKey(userID, "*"), 200).Iterator()
	for iter.Next(ctx) {
		raw, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var entry models.HealthDataCacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.client.Del(ctx, iter.Val())
			continue
		}
		sum, err := checksum(entry.Metric)
		if err != nil || sum != entry.Checksum {
			c.client.Del(ctx, iter.Val())
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *OfflineCache) Delete(ctx context.Context, userID, metricID string) error {
	return c.client.Del(ctx, cacheKey(userID, metricID)).Err()
}
