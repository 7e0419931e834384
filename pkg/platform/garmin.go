package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/httpclient"
	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// GarminConfig carries the credentials and endpoints for Garmin Connect.
type GarminConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Garmin talks to the Garmin wellness REST API using OAuth2 client
// credentials. All calls are bounded by the configured timeout.
type Garmin struct {
	baseURL string
	client  *http.Client
}

func NewGarmin(cfg GarminConfig) *Garmin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	ccfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	// Route token and API calls through the bounded client.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpclient.New(cfg.Timeout))

	return &Garmin{
		baseURL: cfg.BaseURL,
		client:  ccfg.Client(ctx),
	}
}

func (g *Garmin) Name() string { return "garmin" }

func (g *Garmin) SupportedTypes() []models.HealthMetricType {
	return []models.HealthMetricType{
		models.MetricSteps,
		models.MetricHeartRate,
		models.MetricHRV,
		models.MetricCaloriesBurned,
		models.MetricSleepDuration,
		models.MetricStressScore,
		models.MetricVO2Max,
	}
}

type garminDaily struct {
	SummaryID       string  `json:"summaryId"`
	CalendarDate    string  `json:"calendarDate"`
	StartTimeSecs   int64   `json:"startTimeInSeconds"`
	Steps           float64 `json:"steps"`
	RestingHeartBPM float64 `json:"restingHeartRateInBeatsPerMinute"`
	ActiveKcal      float64 `json:"activeKilocalories"`
	StressScore     float64 `json:"averageStressLevel"`
}

// FetchSince pulls daily summaries uploaded after the given time and maps
// them onto health metrics. The summary id rides along as external_id so
// re-fetches deduplicate against earlier ingests.
func (g *Garmin) FetchSince(ctx context.Context, userID string, since time.Time) ([]models.HealthMetric, error) {
	endpoint := fmt.Sprintf("%s/dailies?%s", g.baseURL, url.Values{
		"uploadStartTimeInSeconds": {strconv.FormatInt(since.Unix(), 10)},
		"uploadEndTimeInSeconds":   {strconv.FormatInt(time.Now().Unix(), 10)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("garmin fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("garmin fetch: unexpected status %d", resp.StatusCode)
	}

	var dailies []garminDaily
	if err := json.NewDecoder(resp.Body).Decode(&dailies); err != nil {
		return nil, fmt.Errorf("garmin fetch: decoding response: %w", err)
	}

	var metrics []models.HealthMetric
	for _, daily := range dailies {
		metrics = append(metrics, daily.toMetrics(userID)...)
	}

	logger.Log.WithFields(map[string]interface{}{
		"platform": g.Name(),
		"user_id":  userID,
		"count":    len(metrics),
	}).Debug("fetched platform metrics")

	return metrics, nil
}

// PushBatch uploads locally recorded metrics. Garmin accepts or rejects each
// record independently; a transport failure fails the whole batch and is
// retried via the sync queue.
func (g *Garmin) PushBatch(ctx context.Context, userID string, metrics []models.HealthMetric) ([]PushResult, error) {
	payload, err := json.Marshal(metrics)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/metrics", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("garmin push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("garmin push: unexpected status %d", resp.StatusCode)
	}

	var results []PushResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("garmin push: decoding response: %w", err)
	}
	return results, nil
}

func (d garminDaily) toMetrics(userID string) []models.HealthMetric {
	timestamp := time.Unix(d.StartTimeSecs, 0).UTC().Format(time.RFC3339)

	meta := func(kind string) map[string]string {
		return map[string]string{"external_id": d.SummaryID + ":" + kind}
	}

	var metrics []models.HealthMetric
	if d.Steps > 0 {
		metrics = append(metrics, models.HealthMetric{
			ID:        "garmin-" + d.SummaryID + "-steps",
			UserID:    userID,
			Type:      models.MetricSteps,
			Value:     d.Steps,
			Unit:      "steps",
			Timestamp: timestamp,
			Source:    models.SourceGarmin,
			Metadata:  meta("steps"),
		})
	}
	if d.RestingHeartBPM > 0 {
		metrics = append(metrics, models.HealthMetric{
			ID:        "garmin-" + d.SummaryID + "-hr",
			UserID:    userID,
			Type:      models.MetricHeartRate,
			Value:     d.RestingHeartBPM,
			Unit:      "bpm",
			Timestamp: timestamp,
			Source:    models.SourceGarmin,
			Metadata:  meta("hr"),
		})
	}
	if d.ActiveKcal > 0 {
		metrics = append(metrics, models.HealthMetric{
			ID:        "garmin-" + d.SummaryID + "-kcal",
			UserID:    userID,
			Type:      models.MetricCaloriesBurned,
			Value:     d.ActiveKcal,
			Unit:      "kcal",
			Timestamp: timestamp,
			Source:    models.SourceGarmin,
			Metadata:  meta("kcal"),
		})
	}
	if d.StressScore > 0 {
		metrics = append(metrics, models.HealthMetric{
			ID:        "garmin-" + d.SummaryID + "-stress",
			UserID:    userID,
			Type:      models.MetricStressScore,
			Value:     d.StressScore,
			Unit:      "score",
			Timestamp: timestamp,
			Source:    models.SourceGarmin,
			Metadata:  meta("stress"),
		})
	}
	return metrics
}
