package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// ValidationError wraps a categorised per-record failure so callers can skip
// the record instead of aborting the batch.
type ValidationError struct {
	Detail models.HealthDataValidationError
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Type, e.Detail.Message)
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// AsValidationError extracts the categorised detail from err, if any.
func AsValidationError(err error) (models.HealthDataValidationError, bool) {
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Detail, true
	}
	return models.HealthDataValidationError{}, false
}

const maxRecordAge = 10 * 365 * 24 * time.Hour

type Validator struct {
	catalog RuleCatalog
}

func NewValidator(catalog RuleCatalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate checks one metric for required fields, timestamp sanity, value
// range, and unit consistency. The first failure wins; callers only need one
// reason to skip a record.
func (v *Validator) Validate(metric models.HealthMetric) error {
	if metric.ID == "" {
		return fieldError(metric, models.ValidationMissingField, "id", "metric id is required")
	}
	if metric.UserID == "" {
		return fieldError(metric, models.ValidationMissingField, "user_id", "user id is required")
	}
	if metric.Type == "" {
		return fieldError(metric, models.ValidationMissingField, "type", "metric type is required")
	}
	if strings.TrimSpace(metric.Unit) == "" {
		return fieldError(metric, models.ValidationMissingField, "unit", "unit is required")
	}
	if metric.Timestamp == "" {
		return fieldError(metric, models.ValidationMissingField, "timestamp", "timestamp is required")
	}

	ts, err := time.Parse(time.RFC3339, metric.Timestamp)
	if err != nil {
		return fieldError(metric, models.ValidationInvalidTimestamp, "timestamp",
			fmt.Sprintf("timestamp %q is not RFC 3339", metric.Timestamp))
	}
	now := time.Now().UTC()
	if ts.After(now.Add(5 * time.Minute)) {
		return fieldError(metric, models.ValidationInvalidTimestamp, "timestamp",
			fmt.Sprintf("timestamp %s is in the future", metric.Timestamp))
	}
	if ts.Before(now.Add(-maxRecordAge)) {
		return fieldError(metric, models.ValidationInvalidTimestamp, "timestamp",
			fmt.Sprintf("timestamp %s is older than ten years", metric.Timestamp))
	}

	if math.IsNaN(metric.Value) || math.IsInf(metric.Value, 0) {
		return fieldError(metric, models.ValidationInvalidDataType, "value", "value is not a finite number")
	}

	rule, ok := v.catalog.Rules[metric.Type]
	if !ok {
		return fieldError(metric, models.ValidationInvalidDataType, "type",
			fmt.Sprintf("unknown metric type %q", metric.Type))
	}

	if metric.Value < rule.Min || metric.Value > rule.Max {
		return fieldError(metric, models.ValidationValueRange, "value",
			fmt.Sprintf("value %g outside range [%g, %g] for %s", metric.Value, rule.Min, rule.Max, metric.Type))
	}

	if len(rule.Units) > 0 && !unitAccepted(rule.Units, metric.Unit) {
		return fieldError(metric, models.ValidationInvalidUnit, "unit",
			fmt.Sprintf("unit %q not accepted for %s", metric.Unit, metric.Type))
	}

	return nil
}

// ValidateBatch partitions a batch into accepted metrics and per-record
// errors. One bad record never blocks the rest.
func (v *Validator) ValidateBatch(metrics []models.HealthMetric) ([]models.HealthMetric, []models.HealthDataValidationError) {
	accepted := make([]models.HealthMetric, 0, len(metrics))
	var failures []models.HealthDataValidationError

	for _, metric := range metrics {
		if err := v.Validate(metric); err != nil {
			if detail, ok := AsValidationError(err); ok {
				failures = append(failures, detail)
			} else {
				failures = append(failures, models.HealthDataValidationError{
					MetricID: metric.ID,
					Type:     models.ValidationInconsistentData,
					Message:  err.Error(),
				})
			}
			continue
		}
		accepted = append(accepted, v.Sanitize(metric))
	}

	return accepted, failures
}

// Sanitize normalizes a metric that already passed validation: canonical
// unit spelling, bounded value precision, UTC timestamp.
func (v *Validator) Sanitize(metric models.HealthMetric) models.HealthMetric {
	rule, ok := v.catalog.Rules[metric.Type]
	if !ok {
		return metric
	}

	if rule.CanonicalUnit != "" && unitAccepted(rule.Units, metric.Unit) {
		metric.Value = convertUnit(metric.Value, metric.Unit, rule.CanonicalUnit)
		metric.Unit = rule.CanonicalUnit
	}

	scale := math.Pow10(rule.Precision)
	metric.Value = math.Round(metric.Value*scale) / scale

	if ts, err := time.Parse(time.RFC3339, metric.Timestamp); err == nil {
		metric.Timestamp = ts.UTC().Format(time.RFC3339)
	}

	return metric
}

func unitAccepted(units []string, unit string) bool {
	for _, u := range units {
		if strings.EqualFold(strings.TrimSpace(unit), u) {
			return true
		}
	}
	return false
}

// convertUnit handles the handful of unit pairs the platforms actually send.
func convertUnit(value float64, from, to string) float64 {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if from == to {
		return value
	}
	switch {
	case (from == "lbs" || from == "pounds") && to == "kg":
		return value * 0.45359237
	case (from == "minutes" || from == "min") && to == "hours":
		return value / 60
	case (from == "h" || from == "hours") && to == "minutes":
		return value * 60
	case (from == "ml" || from == "milliliters") && to == "l":
		return value / 1000
	case from == "mg/dl" && to == "mmol/l":
		// blood glucose conversion factor
		return value / 18.0182
	}
	return value
}

func fieldError(metric models.HealthMetric, kind models.ValidationErrorType, field, message string) error {
	return ValidationError{Detail: models.HealthDataValidationError{
		MetricID: metric.ID,
		Type:     kind,
		Message:  message,
		Field:    field,
	}}
}
