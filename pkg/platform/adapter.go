package platform

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// PushResult is the per-record outcome of a push; platforms accept and
// reject records independently.
type PushResult struct {
	MetricID string
	Accepted bool
	Error    string
}

// Adapter is one external health-data platform. The coordinator treats
// adapters as black boxes: fetch what changed since a timestamp, push a
// batch, and report which metric types the platform understands.
type Adapter interface {
	Name() string
	SupportedTypes() []models.HealthMetricType
	FetchSince(ctx context.Context, userID string, since time.Time) ([]models.HealthMetric, error)
	PushBatch(ctx context.Context, userID string, metrics []models.HealthMetric) ([]PushResult, error)
}

// Registry holds the configured adapters, filtered by the enabled set.
type Registry struct {
	adapters map[string]Adapter
	enabled  map[string]struct{}
}

func NewRegistry(enabled []string) *Registry {
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		if trimmed := strings.TrimSpace(strings.ToLower(name)); trimmed != "" {
			enabledSet[trimmed] = struct{}{}
		}
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		enabled:  enabledSet,
	}
}

func (r *Registry) Register(adapter Adapter) {
	r.adapters[strings.ToLower(adapter.Name())] = adapter
}

// Enabled returns the adapters the config allows. Ordering is not
// guaranteed; callers must not depend on it.
func (r *Registry) Enabled() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for name, adapter := range r.adapters {
		if _, ok := r.enabled[name]; ok {
			out = append(out, adapter)
		}
	}
	return out
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownPlatform
	}
	return adapter, nil
}

// Supports reports whether the adapter handles the given metric type.
func Supports(adapter Adapter, metricType models.HealthMetricType) bool {
	for _, t := range adapter.SupportedTypes() {
		if t == metricType {
			return true
		}
	}
	return false
}
