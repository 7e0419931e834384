package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HealthMetricType enumerates the measurement kinds WellTrack tracks.
type HealthMetricType string

const (
	MetricSteps             HealthMetricType = "STEPS"
	MetricHeartRate         HealthMetricType = "HEART_RATE"
	MetricHRV               HealthMetricType = "HRV"
	MetricWeight            HealthMetricType = "WEIGHT"
	MetricCaloriesBurned    HealthMetricType = "CALORIES_BURNED"
	MetricBloodPressure     HealthMetricType = "BLOOD_PRESSURE"
	MetricBloodGlucose      HealthMetricType = "BLOOD_GLUCOSE"
	MetricBodyFatPercentage HealthMetricType = "BODY_FAT_PERCENTAGE"
	MetricSleepDuration     HealthMetricType = "SLEEP_DURATION"
	MetricExerciseDuration  HealthMetricType = "EXERCISE_DURATION"
	MetricHydration         HealthMetricType = "HYDRATION"
	MetricVO2Max            HealthMetricType = "VO2_MAX"
	MetricStressScore       HealthMetricType = "STRESS_SCORE"
	MetricVitaminD3         HealthMetricType = "VITAMIN_D3"
	MetricVitaminB12        HealthMetricType = "VITAMIN_B12"
	MetricFerritin          HealthMetricType = "FERRITIN"
	MetricTestosterone      HealthMetricType = "TESTOSTERONE"
	MetricCortisol          HealthMetricType = "CORTISOL"
	MetricHbA1c             HealthMetricType = "HBA1C"
)

// DataSource enumerates where a measurement originated.
type DataSource string

const (
	SourceHealthConnect DataSource = "HEALTH_CONNECT"
	SourceSamsungHealth DataSource = "SAMSUNG_HEALTH"
	SourceGarmin        DataSource = "GARMIN"
	SourceFitbit        DataSource = "FITBIT"
	SourceManualEntry   DataSource = "MANUAL_ENTRY"
	SourceBloodTest     DataSource = "BLOOD_TEST"
)

// HealthMetric is one measurement. Value and timestamp are immutable once
// created; a correction is a new record carrying SupersedesID. Metadata may
// be enriched after creation (device model, attribution).
type HealthMetric struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         HealthMetricType  `json:"type"`
	Value        float64           `json:"value"`
	Unit         string            `json:"unit"`
	Timestamp    string            `json:"timestamp"` // RFC 3339
	Source       DataSource        `json:"source"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SupersedesID string            `json:"supersedes_id,omitempty"`
}

// DedupKey identifies a metric across re-fetches from the same platform.
// Platforms that report an external id get matched on it; everything else
// falls back to a digest of the natural key.
func (m HealthMetric) DedupKey() string {
	if ext, ok := m.Metadata["external_id"]; ok && ext != "" {
		return fmt.Sprintf("%s:%s", m.Source, ext)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", m.UserID, m.Type, m.Timestamp, m.Source)))
	return hex.EncodeToString(sum[:])
}

// Time parses the metric timestamp. A zero time means the timestamp is
// malformed; the validator rejects such records before they reach here.
func (m HealthMetric) Time() time.Time {
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
