package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/httpclient"
	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// RemoteRecord is one entity as the backing store knows it: the snapshot
// plus the version counter the store assigned on its last write.
type RemoteRecord struct {
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Version    int64           `json:"version"`
	ModifiedAt time.Time       `json:"modified_at"`
	Data       json.RawMessage `json:"data"`
}

// PushOutcome is the per-entity result of a push. A conflicted outcome means
// the store rejected the write because its version moved past ours; the
// caller must go through conflict resolution rather than retry blindly.
type PushOutcome struct {
	EntityID   string `json:"entity_id"`
	Accepted   bool   `json:"accepted"`
	Conflicted bool   `json:"conflicted"`
	Version    int64  `json:"version"`
	Message    string `json:"message,omitempty"`
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client talks to the WellTrack cloud backing store over REST. Transient
// transport failures are retried with capped exponential backoff; version
// conflicts are surfaced to the caller, never retried here.
type Client struct {
	baseURL   string
	http      *http.Client
	retries   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		http:      httpclient.New(cfg.Timeout),
		retries:   cfg.Retries,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
	}
}

// Pull fetches every record for the user modified after since.
func (c *Client) Pull(ctx context.Context, userID string, since time.Time) ([]RemoteRecord, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s/records?%s", c.baseURL, url.PathEscape(userID), url.Values{
		"modified_after": {since.UTC().Format(time.RFC3339)},
	}.Encode())

	var records []RemoteRecord
	err := httpclient.Retry(ctx, c.retries, c.baseDelay, c.maxDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("cloud pull: unexpected status %d", resp.StatusCode)
		}
		records = records[:0]
		return json.NewDecoder(resp.Body).Decode(&records)
	})
	if err != nil {
		return nil, fmt.Errorf("cloud pull for user %s: %w", userID, err)
	}
	return records, nil
}

type pushRequest struct {
	Records []RemoteRecord `json:"records"`
}

// Push writes the given records. The store compares each record's version
// against its own and returns a conflicted outcome instead of overwriting
// a newer remote copy.
func (c *Client) Push(ctx context.Context, userID string, records []RemoteRecord) ([]PushOutcome, error) {
	if len(records) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(pushRequest{Records: records})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1/users/%s/records", c.baseURL, url.PathEscape(userID))

	var outcomes []PushOutcome
	err = httpclient.Retry(ctx, c.retries, c.baseDelay, c.maxDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
			return fmt.Errorf("cloud push: unexpected status %d", resp.StatusCode)
		}
		outcomes = outcomes[:0]
		return json.NewDecoder(resp.Body).Decode(&outcomes)
	})
	if err != nil {
		return nil, fmt.Errorf("cloud push for user %s: %w", userID, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"user_id": userID,
		"pushed":  len(records),
	}).Debug("cloud push finished")

	return outcomes, nil
}

// RecordFromMetric wraps a validated metric as a push record.
func RecordFromMetric(metric models.HealthMetric, version int64) (RemoteRecord, error) {
	data, err := json.Marshal(metric)
	if err != nil {
		return RemoteRecord{}, err
	}
	modified := metric.Time()
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	return RemoteRecord{
		EntityID:   metric.ID,
		EntityType: "health_metric",
		Version:    version,
		ModifiedAt: modified,
		Data:       data,
	}, nil
}
