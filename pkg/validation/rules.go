package validation

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Rule bounds one metric type: accepted value range, accepted units, and the
// canonical unit sanitization normalizes to.
type Rule struct {
	Min           float64  `yaml:"min" json:"min"`
	Max           float64  `yaml:"max" json:"max"`
	Units         []string `yaml:"units" json:"units"`
	CanonicalUnit string   `yaml:"canonical_unit" json:"canonical_unit"`
	Precision     int      `yaml:"precision" json:"precision"`
}

type RuleCatalog struct {
	Rules map[models.HealthMetricType]Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a rule catalog from YAML, falling back to the built-in
// defaults when no path is configured.
func LoadRules(path string) (RuleCatalog, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var catalog RuleCatalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return RuleCatalog{}, err
	}

	if len(catalog.Rules) == 0 {
		return RuleCatalog{}, errors.New("no validation rules configured")
	}

	return catalog, nil
}

// DefaultRules carries physiologically plausible bounds per metric type.
// Biomarker ranges are lab-typical, not diagnostic.
func DefaultRules() RuleCatalog {
	return RuleCatalog{Rules: map[models.HealthMetricType]Rule{
		models.MetricSteps:             {Min: 0, Max: 100000, Units: []string{"steps", "count"}, CanonicalUnit: "steps", Precision: 0},
		models.MetricHeartRate:         {Min: 30, Max: 220, Units: []string{"bpm", "beats/min"}, CanonicalUnit: "bpm", Precision: 0},
		models.MetricHRV:               {Min: 5, Max: 200, Units: []string{"ms", "milliseconds"}, CanonicalUnit: "ms", Precision: 1},
		models.MetricWeight:            {Min: 20, Max: 500, Units: []string{"kg", "lbs", "pounds"}, CanonicalUnit: "kg", Precision: 1},
		models.MetricCaloriesBurned:    {Min: 0, Max: 10000, Units: []string{"cal", "kcal", "calories"}, CanonicalUnit: "kcal", Precision: 0},
		models.MetricBloodPressure:     {Min: 50, Max: 250, Units: []string{"mmHg", "mm Hg"}, CanonicalUnit: "mmHg", Precision: 0},
		models.MetricBloodGlucose:      {Min: 2, Max: 30, Units: []string{"mmol/L", "mg/dL"}, CanonicalUnit: "mmol/L", Precision: 1},
		models.MetricBodyFatPercentage: {Min: 3, Max: 50, Units: []string{"%", "percent"}, CanonicalUnit: "%", Precision: 1},
		models.MetricSleepDuration:     {Min: 0, Max: 24, Units: []string{"hours", "h", "minutes", "min"}, CanonicalUnit: "hours", Precision: 2},
		models.MetricExerciseDuration:  {Min: 0, Max: 720, Units: []string{"minutes", "min", "hours", "h"}, CanonicalUnit: "minutes", Precision: 0},
		models.MetricHydration:         {Min: 0, Max: 10, Units: []string{"L", "liters", "ml", "milliliters"}, CanonicalUnit: "L", Precision: 2},
		models.MetricVO2Max:            {Min: 10, Max: 90, Units: []string{"ml/min/kg", "ml/kg/min"}, CanonicalUnit: "ml/min/kg", Precision: 1},
		models.MetricStressScore:       {Min: 0, Max: 100, Units: []string{"score", "points"}, CanonicalUnit: "score", Precision: 0},
		models.MetricVitaminD3:         {Min: 10, Max: 250, Units: []string{"nmol/L"}, CanonicalUnit: "nmol/L", Precision: 1},
		models.MetricVitaminB12:        {Min: 150, Max: 900, Units: []string{"pmol/L"}, CanonicalUnit: "pmol/L", Precision: 1},
		models.MetricFerritin:          {Min: 12, Max: 300, Units: []string{"ug/L", "µg/L", "ng/mL"}, CanonicalUnit: "ug/L", Precision: 1},
		models.MetricTestosterone:      {Min: 0.1, Max: 50, Units: []string{"nmol/L"}, CanonicalUnit: "nmol/L", Precision: 2},
		models.MetricCortisol:          {Min: 100, Max: 800, Units: []string{"nmol/L"}, CanonicalUnit: "nmol/L", Precision: 1},
		models.MetricHbA1c:             {Min: 4, Max: 15, Units: []string{"%", "percent"}, CanonicalUnit: "%", Precision: 1},
	}}
}
