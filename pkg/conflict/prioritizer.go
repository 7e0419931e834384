package conflict

import (
	"math"
	"sort"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// Near-duplicate collapse for freshly fetched batches: the same measurement
// often arrives from two platforms within minutes of each other.
const (
	duplicateTimeWindow = 15 * time.Minute
	valueSimilarity     = 0.15
)

// sourceRank orders sources by reliability. Lab results beat wearables;
// deliberate manual entries beat passive aggregators.
func sourceRank(source models.DataSource) int {
	switch source {
	case models.SourceBloodTest:
		return 0
	case models.SourceManualEntry:
		return 1
	case models.SourceGarmin:
		return 2
	case models.SourceSamsungHealth:
		return 3
	case models.SourceHealthConnect:
		return 4
	default:
		return 5
	}
}

// Deduplicate collapses metrics of the same user and type recorded within
// the duplicate window with near-identical values, keeping the most reliable
// source. Genuinely divergent readings are all kept; they are real data, not
// duplicates.
func Deduplicate(metrics []models.HealthMetric) []models.HealthMetric {
	if len(metrics) < 2 {
		return metrics
	}

	sorted := make([]models.HealthMetric, len(metrics))
	copy(sorted, metrics)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Time().Before(sorted[j].Time())
	})

	var groups [][]models.HealthMetric
	for _, metric := range sorted {
		placed := false
		for gi := range groups {
			head := groups[gi][0]
			if head.UserID == metric.UserID && head.Type == metric.Type &&
				withinWindow(head.Time(), metric.Time()) && similar(head.Value, metric.Value) {
				groups[gi] = append(groups[gi], metric)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []models.HealthMetric{metric})
		}
	}

	out := make([]models.HealthMetric, 0, len(groups))
	for _, group := range groups {
		out = append(out, best(group))
	}
	return out
}

func withinWindow(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= duplicateTimeWindow
}

func similar(a, b float64) bool {
	if a == b {
		return true
	}
	mean := (math.Abs(a) + math.Abs(b)) / 2
	if mean == 0 {
		return false
	}
	return math.Abs(a-b)/mean <= valueSimilarity
}

func best(group []models.HealthMetric) models.HealthMetric {
	winner := group[0]
	for _, candidate := range group[1:] {
		if sourceRank(candidate.Source) < sourceRank(winner.Source) {
			winner = candidate
		}
	}
	return winner
}
