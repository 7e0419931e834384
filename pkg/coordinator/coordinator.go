package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/cloud"
	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/beaconledger/welltrack-sync/pkg/conflict"
	"github.com/beaconledger/welltrack-sync/pkg/observability/metrics"
	"github.com/beaconledger/welltrack-sync/pkg/platform"
	"github.com/beaconledger/welltrack-sync/pkg/queue"
	"github.com/beaconledger/welltrack-sync/pkg/tracker"
	"github.com/beaconledger/welltrack-sync/pkg/validation"
	"github.com/google/uuid"
)

// TargetCloud is the queue target for the WellTrack backing store, as
// opposed to a platform adapter name.
const TargetCloud = "cloud"

var ErrSyncInProgress = errors.New("sync already in progress for user")

// CloudStore is the remote backing store boundary. cloud.Client satisfies it.
type CloudStore interface {
	Pull(ctx context.Context, userID string, since time.Time) ([]cloud.RemoteRecord, error)
	Push(ctx context.Context, userID string, records []cloud.RemoteRecord) ([]cloud.PushOutcome, error)
}

// SnapshotStore holds the local copy of each metric. cache.OfflineCache
// satisfies it.
type SnapshotStore interface {
	Put(ctx context.Context, metric models.HealthMetric, state models.SyncState) error
	Get(ctx context.Context, userID, metricID string) (*models.HealthDataCacheEntry, error)
}

// Deps wires the coordinator's collaborators.
type Deps struct {
	Registry  *platform.Registry
	Tracker   *tracker.Tracker
	Queue     *queue.Queue
	Validator *validation.Validator
	Cloud     CloudStore
	Snapshots SnapshotStore
	Events    queue.EventSink
	Locker    Locker
	Metrics   *metrics.Collector

	Config         models.HealthSyncConfig
	AdapterTimeout time.Duration
	LockTTL        time.Duration
	DeviceID       string
}

// Coordinator runs the sync cycle: pull from the cloud store, fetch from the
// platforms, then drain the upload queue. Downloads always run before
// uploads so local decisions are made against the freshest remote state. One
// cycle per user at a time; overlapping triggers are rejected, not queued.
type Coordinator struct {
	registry  *platform.Registry
	tracker   *tracker.Tracker
	queue     *queue.Queue
	validator *validation.Validator
	cloud     CloudStore
	snapshots SnapshotStore
	events    queue.EventSink
	locker    Locker
	metrics   *metrics.Collector
	detector  *conflict.Detector

	cfg            models.HealthSyncConfig
	adapterTimeout time.Duration
	lockTTL        time.Duration
	deviceID       string
}

func New(deps Deps) *Coordinator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if deps.AdapterTimeout <= 0 {
		deps.AdapterTimeout = 30 * time.Second
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = 10 * time.Minute
	}
	if deps.Config.BatchSize <= 0 {
		deps.Config.BatchSize = 100
	}
	if deps.Config.MaxRetries <= 0 {
		deps.Config.MaxRetries = 3
	}
	if deps.Config.ConflictStrategy == "" {
		deps.Config.ConflictStrategy = models.StrategyLatestWins
	}

	return &Coordinator{
		registry:       deps.Registry,
		tracker:        deps.Tracker,
		queue:          deps.Queue,
		validator:      deps.Validator,
		cloud:          deps.Cloud,
		snapshots:      deps.Snapshots,
		events:         deps.Events,
		locker:         deps.Locker,
		metrics:        deps.Metrics,
		detector:       conflict.NewDetector(deps.Config.EnableBidirectional),
		cfg:            deps.Config,
		adapterTimeout: deps.AdapterTimeout,
		lockTTL:        deps.LockTTL,
		deviceID:       deps.DeviceID,
	}
}

// cycleState accumulates the outcome of one sync cycle. fatal marks aborts
// that kept the cycle from completing (cloud unreachable, persistence down);
// per-record validation and push failures only count, they never abort.
type cycleState struct {
	synced    int
	failed    int
	fatal     bool
	errors    []string
	platforms []models.PlatformSyncStatus
}

func (cy *cycleState) fail(format string, args ...interface{}) {
	cy.failed++
	cy.errors = append(cy.errors, fmt.Sprintf(format, args...))
}

func (cy *cycleState) abort(format string, args ...interface{}) {
	cy.fatal = true
	cy.errors = append(cy.errors, fmt.Sprintf(format, args...))
}

func (cy *cycleState) result(now time.Time) models.HealthSyncResult {
	kind := models.ResultSuccess
	message := ""
	switch {
	case cy.fatal && cy.synced == 0:
		kind = models.ResultError
	case cy.failed > 0 || len(cy.errors) > 0:
		kind = models.ResultPartialSuccess
	case cy.synced == 0:
		message = "no changes to synchronize"
	}
	return models.HealthSyncResult{
		Kind:               kind,
		SyncedMetricsCount: cy.synced,
		FailedMetricsCount: cy.failed,
		PlatformStatuses:   cy.platforms,
		Errors:             cy.errors,
		Message:            message,
		SyncTimestamp:      now,
	}
}

// SyncUser runs one full sync cycle for the user. A second trigger while a
// cycle is running returns ErrSyncInProgress; the caller retries on the next
// interval. Cancellation stops between phases, leaving pending states and
// queued items in place for the next cycle.
func (c *Coordinator) SyncUser(ctx context.Context, userID string) (models.HealthSyncResult, error) {
	release, acquired, err := c.locker.Acquire(ctx, userID, c.lockTTL)
	if err != nil {
		return errorResult(err), err
	}
	if !acquired {
		return errorResult(ErrSyncInProgress), ErrSyncInProgress
	}
	defer release()

	c.metrics.SyncStarted()
	c.emit(ctx, userID, models.EventSyncStarted, "", "", true, "")

	started := time.Now().UTC()
	cy := &cycleState{}

	// Downloads run before uploads: local decisions are made against the
	// freshest remote state.
	pulled := c.pullRemote(ctx, userID, cy)

	if ctx.Err() == nil {
		c.fetchPlatforms(ctx, userID, cy)
	}
	if ctx.Err() == nil {
		c.drainQueue(ctx, userID, cy)
	}

	if err := ctx.Err(); err != nil {
		cy.errors = append(cy.errors, fmt.Sprintf("cycle interrupted: %v", err))
		result := cy.result(time.Now().UTC())
		result.Kind = models.ResultError
		c.metrics.SyncFailed()
		c.emit(ctx, userID, models.EventSyncFailed, "", "", false, "cycle interrupted")
		return result, err
	}

	if pulled {
		if err := c.tracker.RecordFetch(ctx, userID, TargetCloud, started); err != nil {
			logger.Log.WithError(err).WithField("user_id", userID).Warn("could not advance cloud fetch watermark")
		}
	}
	result := cy.result(time.Now().UTC())
	c.metrics.MetricsSynced(cy.synced)

	switch result.Kind {
	case models.ResultError:
		c.metrics.SyncFailed()
		c.emit(ctx, userID, models.EventSyncFailed, "", "", false, joinErrors(cy.errors))
	default:
		c.metrics.SyncSucceeded()
		c.emit(ctx, userID, models.EventSyncCompleted, "", "", true,
			fmt.Sprintf("%d synced, %d failed", cy.synced, cy.failed))
	}
	return result, nil
}

// pullRemote reconciles the cloud store's view into the local one. The
// return value reports whether the pull completed; only then may the cloud
// fetch watermark advance.
func (c *Coordinator) pullRemote(ctx context.Context, userID string, cy *cycleState) bool {
	since, err := c.tracker.LastFetch(ctx, userID, TargetCloud)
	if err != nil {
		// Re-pulling from the beginning is safe; losing records is not.
		logger.Log.WithError(err).WithField("user_id", userID).Warn("could not read cloud fetch watermark")
		since = time.Time{}
	}

	records, err := c.cloud.Pull(ctx, userID, since)
	if err != nil {
		cy.abort("cloud pull: %v", err)
		return false
	}

	now := time.Now().UTC()
	for _, rec := range records {
		if ctx.Err() != nil {
			return false
		}

		status, err := c.tracker.Get(ctx, rec.EntityID)
		if errors.Is(err, tracker.ErrNotFound) {
			c.adoptRemote(ctx, userID, rec, now, cy)
			continue
		}
		if err != nil {
			cy.fail("status lookup for %s: %v", rec.EntityID, err)
			continue
		}
		if status.State == models.StateConflict {
			// Already awaiting resolution; nothing to decide here.
			continue
		}

		var localData json.RawMessage
		if entry, err := c.snapshots.Get(ctx, userID, rec.EntityID); err == nil {
			localData, _ = json.Marshal(entry.Metric)
		}

		det := c.detector.Detect(*status, localData, rec.Data, rec.Version, rec.ModifiedAt)
		switch det.Decision {
		case conflict.NoChange:
			// Both sides agree already.

		case conflict.AcceptRemote:
			c.applyRemote(ctx, userID, *status, rec, now, cy)

		case conflict.KeepLocal:
			// Local copy is ahead; schedule a re-push.
			if entry, err := c.snapshots.Get(ctx, userID, rec.EntityID); err == nil {
				c.enqueueUpload(ctx, userID, entry.Metric, models.PriorityNormal)
			}

		case conflict.Conflicted:
			c.recordConflict(ctx, userID, *status, *det.Conflict, cy)
		}
	}
	return true
}

// adoptRemote brings a previously unseen remote entity into local state.
func (c *Coordinator) adoptRemote(ctx context.Context, userID string, rec cloud.RemoteRecord, now time.Time, cy *cycleState) {
	metric, err := metricFromSnapshot(rec.Data)
	if err != nil {
		cy.fail("remote record %s: %v", rec.EntityID, err)
		return
	}
	if _, err := c.tracker.MarkPendingDownload(ctx, userID, rec.EntityID, rec.EntityType, c.deviceID); err != nil {
		cy.fail("tracking %s: %v", rec.EntityID, err)
		return
	}
	if err := c.tracker.MarkSynced(ctx, rec.EntityID, now, rec.Version); err != nil {
		cy.fail("completing download of %s: %v", rec.EntityID, err)
		return
	}
	if err := c.snapshots.Put(ctx, metric, models.StateSynced); err != nil {
		logger.Log.WithError(err).WithField("entity_id", rec.EntityID).Warn("failed to cache downloaded metric")
	}
	cy.synced++
}

// applyRemote overwrites the local copy with the remote snapshot.
func (c *Coordinator) applyRemote(ctx context.Context, userID string, status models.SyncStatus, rec cloud.RemoteRecord, now time.Time, cy *cycleState) {
	metric, err := metricFromSnapshot(rec.Data)
	if err != nil {
		cy.fail("remote record %s: %v", rec.EntityID, err)
		return
	}
	if !status.State.Pending() {
		if _, err := c.tracker.MarkPendingDownload(ctx, userID, rec.EntityID, rec.EntityType, c.deviceID); err != nil {
			cy.fail("tracking %s: %v", rec.EntityID, err)
			return
		}
	}
	if err := c.tracker.MarkSynced(ctx, rec.EntityID, now, rec.Version); err != nil {
		cy.fail("completing download of %s: %v", rec.EntityID, err)
		return
	}
	if err := c.snapshots.Put(ctx, metric, models.StateSynced); err != nil {
		logger.Log.WithError(err).WithField("entity_id", rec.EntityID).Warn("failed to cache downloaded metric")
	}
	cy.synced++
}

// recordConflict persists a detected divergence and, unless the strategy is
// MANUAL, settles it in the same cycle. Automatic strategies always reach a
// definite outcome.
func (c *Coordinator) recordConflict(ctx context.Context, userID string, status models.SyncStatus, conf models.SyncConflict, cy *cycleState) {
	if !status.State.Pending() {
		if _, err := c.tracker.MarkPendingDownload(ctx, userID, conf.EntityID, conf.EntityType, c.deviceID); err != nil {
			cy.fail("tracking %s: %v", conf.EntityID, err)
			return
		}
	}
	if err := c.tracker.MarkConflict(ctx, conf.EntityID, conf); err != nil {
		cy.fail("recording conflict for %s: %v", conf.EntityID, err)
		return
	}
	c.metrics.ConflictDetected()
	c.emit(ctx, userID, models.EventConflictDetected, "", conf.EntityID, true,
		fmt.Sprintf("local v%d vs remote v%d", conf.LocalVersion, conf.RemoteVersion))

	if c.cfg.ConflictStrategy == models.StrategyManual {
		return
	}
	c.settleConflict(ctx, userID, conf, c.cfg.ConflictStrategy, cy)
}

// settleConflict applies a resolution strategy to a stored conflict.
func (c *Coordinator) settleConflict(ctx context.Context, userID string, conf models.SyncConflict, strategy models.ConflictResolutionStrategy, cy *cycleState) {
	outcome, err := conflict.Resolve(conf, strategy)
	if err != nil {
		cy.fail("resolving conflict for %s: %v", conf.EntityID, err)
		return
	}
	if !outcome.Resolved {
		return
	}

	now := time.Now().UTC()
	if err := c.tracker.ResolveConflict(ctx, conf.EntityID, outcome.NextState, now); err != nil {
		cy.fail("applying resolution for %s: %v", conf.EntityID, err)
		return
	}

	metric, err := metricFromSnapshot(outcome.Data)
	if err != nil {
		cy.fail("resolution snapshot for %s: %v", conf.EntityID, err)
		return
	}

	if outcome.Winner == conflict.WinnerRemote {
		if err := c.snapshots.Put(ctx, metric, models.StateSynced); err != nil {
			logger.Log.WithError(err).WithField("entity_id", conf.EntityID).Warn("failed to cache resolved metric")
		}
		cy.synced++
	} else {
		if err := c.snapshots.Put(ctx, metric, models.StatePendingUpload); err != nil {
			logger.Log.WithError(err).WithField("entity_id", conf.EntityID).Warn("failed to cache resolved metric")
		}
		c.enqueueUpload(ctx, userID, metric, models.PriorityHigh)
	}

	c.metrics.ConflictResolved()
	c.emit(ctx, userID, models.EventConflictResolved, "", conf.EntityID, true, string(outcome.Winner)+" copy kept")
}

// fetchPlatforms pulls new measurements from every enabled platform. One
// platform failing never blocks the others.
func (c *Coordinator) fetchPlatforms(ctx context.Context, userID string, cy *cycleState) {
	if c.registry == nil {
		return
	}
	for _, adapter := range c.registry.Enabled() {
		if ctx.Err() != nil {
			return
		}
		c.fetchPlatform(ctx, userID, adapter, cy)
	}
}

func (c *Coordinator) fetchPlatform(ctx context.Context, userID string, adapter platform.Adapter, cy *cycleState) {
	now := time.Now().UTC()
	ps := models.PlatformSyncStatus{
		Platform:       adapter.Name(),
		SupportedTypes: adapter.SupportedTypes(),
	}

	// Each platform keeps its own watermark, advanced only on a successful
	// fetch. A platform that was down re-fetches the missed window later.
	since, err := c.tracker.LastFetch(ctx, userID, adapter.Name())
	if err != nil {
		logger.Log.WithError(err).WithField("platform", adapter.Name()).Warn("could not read platform fetch watermark")
		since = time.Time{}
	}

	actx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
	fetched, err := adapter.FetchSince(actx, userID, since)
	cancel()
	if err != nil {
		ps.State = models.StateFailed
		ps.ErrorMessage = err.Error()
		cy.errors = append(cy.errors, fmt.Sprintf("%s: %v", adapter.Name(), err))
		cy.platforms = append(cy.platforms, ps)
		c.emit(ctx, userID, models.EventPlatformDisconnected, adapter.Name(), "", false, err.Error())
		return
	}
	ps.Available = true
	ps.Connected = true

	accepted := conflict.Deduplicate(fetched)
	if c.cfg.EnableValidation && c.validator != nil {
		var failures []models.HealthDataValidationError
		accepted, failures = c.validator.ValidateBatch(accepted)
		if len(failures) > 0 {
			c.metrics.ValidationErrors(len(failures))
			for _, f := range failures {
				cy.fail("%s %s: %s", adapter.Name(), f.MetricID, f.Message)
			}
			c.emit(ctx, userID, models.EventDataValidated, adapter.Name(), "", false,
				fmt.Sprintf("%d of %d records rejected", len(failures), len(fetched)))
		}
	}

	for _, metric := range accepted {
		if _, err := c.tracker.MarkPendingUpload(ctx, userID, metric.ID, "health_metric", c.deviceID); err != nil {
			if errors.Is(err, tracker.ErrInvalidTransition) {
				// Conflicted entity; resolution owns it.
				continue
			}
			cy.fail("tracking %s: %v", metric.ID, err)
			continue
		}
		if err := c.snapshots.Put(ctx, metric, models.StatePendingUpload); err != nil {
			logger.Log.WithError(err).WithField("entity_id", metric.ID).Warn("failed to cache fetched metric")
		}
		c.enqueueUpload(ctx, userID, metric, models.PriorityNormal)
	}

	ps.State = models.StateSynced
	ps.LastSyncTime = &now
	ps.SyncedMetricsCount = len(accepted)
	cy.platforms = append(cy.platforms, ps)

	if err := c.tracker.RecordFetch(ctx, userID, adapter.Name(), now); err != nil {
		logger.Log.WithError(err).WithField("platform", adapter.Name()).Warn("could not advance platform fetch watermark")
	}
}

// drainQueue processes up to one batch of queued work, cloud pushes first.
func (c *Coordinator) drainQueue(ctx context.Context, userID string, cy *cycleState) {
	batch, err := c.queue.DequeueBatch(ctx, userID, c.cfg.BatchSize)
	if err != nil {
		cy.abort("queue drain: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	var cloudItems []models.SyncQueueItem
	perPlatform := make(map[string][]models.SyncQueueItem)
	for _, item := range batch {
		if item.TargetPlatform == TargetCloud {
			cloudItems = append(cloudItems, item)
		} else {
			perPlatform[item.TargetPlatform] = append(perPlatform[item.TargetPlatform], item)
		}
	}

	c.pushCloud(ctx, userID, cloudItems, cy)
	for name, items := range perPlatform {
		if ctx.Err() != nil {
			return
		}
		c.pushPlatform(ctx, userID, name, items, cy)
	}
}

func (c *Coordinator) pushCloud(ctx context.Context, userID string, items []models.SyncQueueItem, cy *cycleState) {
	if len(items) == 0 {
		return
	}

	records := make([]cloud.RemoteRecord, 0, len(items))
	versions := make(map[string]int64, len(items))
	for _, item := range items {
		version := int64(1)
		if status, err := c.tracker.Get(ctx, item.Metric.ID); err == nil {
			version = status.Version
		}
		versions[item.Metric.ID] = version

		rec, err := cloud.RecordFromMetric(item.Metric, version)
		if err != nil {
			c.failItem(ctx, item, err, cy)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return
	}

	outcomes, err := c.cloud.Push(ctx, userID, records)
	if err != nil {
		// Transport failure: every item goes back through retry.
		cy.errors = append(cy.errors, fmt.Sprintf("cloud push: %v", err))
		for _, item := range items {
			c.failItem(ctx, item, err, cy)
		}
		return
	}

	byEntity := make(map[string]cloud.PushOutcome, len(outcomes))
	for _, out := range outcomes {
		byEntity[out.EntityID] = out
	}

	now := time.Now().UTC()
	for _, item := range items {
		out, ok := byEntity[item.Metric.ID]
		switch {
		case !ok:
			c.failItem(ctx, item, fmt.Errorf("no push outcome for %s", item.Metric.ID), cy)

		case out.Accepted:
			if err := c.tracker.MarkSynced(ctx, item.Metric.ID, now, out.Version); err != nil {
				c.failItem(ctx, item, err, cy)
				continue
			}
			if err := c.snapshots.Put(ctx, item.Metric, models.StateSynced); err != nil {
				logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Warn("failed to cache uploaded metric")
			}
			if err := c.queue.RecordSuccess(ctx, item); err != nil {
				logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Warn("failed to clear queue item")
			}
			cy.synced++

		case out.Conflicted:
			// The store holds a newer copy. Withdraw the upload; the next
			// pull sees both snapshots and runs conflict detection proper.
			if err := c.queue.Withdraw(ctx, item); err != nil {
				logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Warn("failed to withdraw queue item")
			}
			c.emit(ctx, userID, models.EventConflictDetected, TargetCloud, item.Metric.ID, true,
				fmt.Sprintf("push rejected, remote at v%d local at v%d", out.Version, versions[item.Metric.ID]))

		default:
			c.failItem(ctx, item, errors.New(nonEmpty(out.Message, "push rejected")), cy)
		}
	}
}

func (c *Coordinator) pushPlatform(ctx context.Context, userID, name string, items []models.SyncQueueItem, cy *cycleState) {
	adapter, err := c.registry.Get(name)
	if err != nil {
		for _, item := range items {
			c.failItem(ctx, item, err, cy)
		}
		return
	}

	batch := make([]models.HealthMetric, 0, len(items))
	pushable := make([]models.SyncQueueItem, 0, len(items))
	for _, item := range items {
		if !platform.Supports(adapter, item.Metric.Type) {
			c.failItem(ctx, item, fmt.Errorf("%s does not accept %s", name, item.Metric.Type), cy)
			continue
		}
		batch = append(batch, item.Metric)
		pushable = append(pushable, item)
	}
	if len(batch) == 0 {
		return
	}
	items = pushable

	actx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
	results, err := adapter.PushBatch(actx, userID, batch)
	cancel()
	if err != nil {
		cy.errors = append(cy.errors, fmt.Sprintf("%s push: %v", name, err))
		for _, item := range items {
			c.failItem(ctx, item, err, cy)
		}
		return
	}

	byID := make(map[string]platform.PushResult, len(results))
	for _, res := range results {
		byID[res.MetricID] = res
	}
	for _, item := range items {
		res, ok := byID[item.Metric.ID]
		if ok && res.Accepted {
			if err := c.queue.RecordSuccess(ctx, item); err != nil {
				logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Warn("failed to clear queue item")
			}
			cy.synced++
			continue
		}
		reason := "push rejected"
		if ok && res.Error != "" {
			reason = res.Error
		}
		c.failItem(ctx, item, errors.New(reason), cy)
	}
}

// failItem routes one failed queue item through retry bookkeeping. Retry
// exhaustion moves the tracked entity to FAILED; the queue emits the
// terminal SYNC_FAILED event.
func (c *Coordinator) failItem(ctx context.Context, item models.SyncQueueItem, cause error, cy *cycleState) {
	cy.fail("%s: %v", item.Metric.ID, cause)

	terminal, err := c.queue.RecordFailure(ctx, item, cause)
	if err != nil {
		logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Error("retry bookkeeping failed")
		return
	}
	if !terminal {
		return
	}

	c.metrics.QueueItemDiscarded()
	if _, err := c.tracker.MarkFailed(ctx, item.Metric.ID, cause.Error()); err != nil && !errors.Is(err, tracker.ErrNotFound) {
		logger.Log.WithError(err).WithField("entity_id", item.Metric.ID).Warn("could not mark entity failed")
	}
}

// RecordLocalMetric accepts a locally captured measurement (manual entry or
// device import), validates it, and queues it for upload.
func (c *Coordinator) RecordLocalMetric(ctx context.Context, metric models.HealthMetric) error {
	if c.cfg.EnableValidation && c.validator != nil {
		if err := c.validator.Validate(metric); err != nil {
			c.metrics.ValidationErrors(1)
			return err
		}
		metric = c.validator.Sanitize(metric)
	}

	if _, err := c.tracker.MarkPendingUpload(ctx, metric.UserID, metric.ID, "health_metric", c.deviceID); err != nil {
		return err
	}
	if err := c.snapshots.Put(ctx, metric, models.StatePendingUpload); err != nil {
		logger.Log.WithError(err).WithField("entity_id", metric.ID).Warn("failed to cache local metric")
	}
	c.enqueueUpload(ctx, metric.UserID, metric, models.PriorityNormal)
	return nil
}

// ResolveManual settles a stored conflict with a caller-chosen strategy.
// Used by the API when the configured strategy is MANUAL or when a user
// overrides an automatic decision.
func (c *Coordinator) ResolveManual(ctx context.Context, userID, entityID string, strategy models.ConflictResolutionStrategy) error {
	conf, err := c.tracker.Conflict(ctx, entityID)
	if err != nil {
		return err
	}

	cy := &cycleState{}
	c.settleConflict(ctx, userID, *conf, strategy, cy)
	if len(cy.errors) > 0 {
		return errors.New(joinErrors(cy.errors))
	}
	return nil
}

// Status reports the user's sync position plus queue depth.
func (c *Coordinator) Status(ctx context.Context, userID string) (models.SyncStats, int, error) {
	stats, err := c.tracker.Stats(ctx, userID)
	if err != nil {
		return models.SyncStats{}, 0, err
	}
	depth, err := c.queue.Depth(ctx, userID)
	if err != nil {
		return models.SyncStats{}, 0, err
	}
	return stats, depth, nil
}

func (c *Coordinator) Conflicts(ctx context.Context, userID string) ([]models.SyncConflict, error) {
	return c.tracker.Conflicts(ctx, userID)
}

// PendingEntities lists everything a user has waiting for upload or download.
func (c *Coordinator) PendingEntities(ctx context.Context, userID string) ([]models.SyncStatus, error) {
	return c.tracker.Pending(ctx, userID)
}

// Forget drops sync tracking for a deleted entity, including any stored
// conflict.
func (c *Coordinator) Forget(ctx context.Context, entityID string) error {
	return c.tracker.Forget(ctx, entityID)
}

func (c *Coordinator) enqueueUpload(ctx context.Context, userID string, metric models.HealthMetric, priority models.SyncPriority) {
	_, err := c.queue.Enqueue(ctx, models.SyncQueueItem{
		UserID:         userID,
		Operation:      models.OpUpload,
		Metric:         metric,
		TargetPlatform: TargetCloud,
		MaxRetries:     c.cfg.MaxRetries,
		Priority:       priority,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("entity_id", metric.ID).Error("failed to enqueue upload")
	}
}

func (c *Coordinator) emit(ctx context.Context, userID string, t models.SyncEventType, platformName, entityID string, success bool, details string) {
	if c.events == nil {
		return
	}
	event := models.SyncEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      t,
		Platform:  platformName,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Details:   details,
		Success:   success,
	}
	if err := c.events.PublishSyncEvent(ctx, event); err != nil {
		logger.Log.WithError(err).WithField("event_type", t).Warn("failed to publish sync event")
	}
}

func metricFromSnapshot(data json.RawMessage) (models.HealthMetric, error) {
	var metric models.HealthMetric
	if err := json.Unmarshal(data, &metric); err != nil {
		return metric, fmt.Errorf("decoding snapshot: %w", err)
	}
	if metric.ID == "" {
		return metric, errors.New("snapshot missing metric id")
	}
	return metric, nil
}

func errorResult(err error) models.HealthSyncResult {
	return models.HealthSyncResult{
		Kind:          models.ResultError,
		Errors:        []string{err.Error()},
		SyncTimestamp: time.Now().UTC(),
	}
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
