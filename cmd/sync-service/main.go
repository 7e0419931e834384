package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/cache"
	"github.com/beaconledger/welltrack-sync/pkg/cloud"
	"github.com/beaconledger/welltrack-sync/pkg/common/config"
	"github.com/beaconledger/welltrack-sync/pkg/common/database"
	"github.com/beaconledger/welltrack-sync/pkg/common/kafka"
	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"github.com/beaconledger/welltrack-sync/pkg/common/models"
	"github.com/beaconledger/welltrack-sync/pkg/coordinator"
	"github.com/beaconledger/welltrack-sync/pkg/observability/metrics"
	"github.com/beaconledger/welltrack-sync/pkg/platform"
	"github.com/beaconledger/welltrack-sync/pkg/queue"
	"github.com/beaconledger/welltrack-sync/pkg/syncapi"
	"github.com/beaconledger/welltrack-sync/pkg/tracker"
	"github.com/beaconledger/welltrack-sync/pkg/validation"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("sync-service")
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	trackerRepo := tracker.NewRepository(db)
	if err := trackerRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate sync status tables")
	}
	queueRepo := queue.NewRepository(db)
	if err := queueRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate sync queue tables")
	}

	redisClient := database.GetRedis()

	producer := kafka.NewProducer(cfg.SyncEventsTopic)
	defer producer.Close()

	catalog, err := validation.LoadRules(cfg.ValidationRulesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to built-in validation rules")
	}
	validator := validation.NewValidator(catalog)

	registry := platform.NewRegistry(cfg.EnabledPlatforms)
	registry.Register(platform.NewGarmin(platform.GarminConfig{
		BaseURL:      cfg.GarminBaseURL,
		TokenURL:     cfg.GarminTokenURL,
		ClientID:     cfg.GarminClientID,
		ClientSecret: cfg.GarminClientSecret,
		Timeout:      cfg.AdapterTimeout,
	}))

	cloudClient := cloud.NewClient(cloud.Config{
		BaseURL:   cfg.CloudBaseURL,
		Timeout:   cfg.CloudRequestTimeout,
		Retries:   cfg.CloudRetryAttempts,
		BaseDelay: cfg.RetryBackoffBase,
		MaxDelay:  cfg.RetryBackoffCap,
	})

	offlineCache := cache.NewOfflineCache(redisClient, cfg.OfflineCacheTTL)

	collector := metrics.NewCollector()
	syncQueue := queue.New(queueRepo, producer, cfg.RetryBackoffBase, cfg.RetryBackoffCap)
	syncTracker := tracker.New(trackerRepo)

	hostname, _ := os.Hostname()
	coord := coordinator.New(coordinator.Deps{
		Registry:  registry,
		Tracker:   syncTracker,
		Queue:     syncQueue,
		Validator: validator,
		Cloud:     cloudClient,
		Snapshots: offlineCache,
		Events:    producer,
		Locker:    coordinator.NewRedisLocker(redisClient),
		Metrics:   collector,
		Config: models.HealthSyncConfig{
			EnabledPlatforms:    cfg.EnabledPlatforms,
			SyncInterval:        cfg.SyncInterval,
			BatchSize:           cfg.SyncBatchSize,
			MaxRetries:          cfg.SyncMaxRetries,
			ConflictStrategy:    models.ConflictResolutionStrategy(cfg.ConflictStrategy),
			EnableOfflineCache:  cfg.EnableOfflineCache,
			EnableValidation:    cfg.EnableValidation,
			EnableBidirectional: cfg.EnableBidirectional,
		},
		AdapterTimeout: cfg.AdapterTimeout,
		LockTTL:        cfg.SyncLockTTL,
		DeviceID:       hostname,
	})

	handler := syncapi.NewHTTPHandler(coord, offlineCache, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", collector.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Sync Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	// Watch the event stream for terminal failures so they surface in the
	// service logs even when emitted by another instance.
	consumer := kafka.NewConsumer(cfg.SyncEventsTopic, "")
	defer consumer.Close()
	go func() {
		err := consumer.Consume(ctx, func(_ context.Context, event models.SyncEvent) error {
			if event.Type == models.EventSyncFailed && !event.Success {
				logger.Log.WithFields(map[string]interface{}{
					"user_id":   event.UserID,
					"entity_id": event.EntityID,
					"details":   event.Details,
				}).Warn("terminal sync failure observed")
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("event consumer stopped")
		}
	}()

	// Periodic cycle for every user with pending work or queued items.
	go func() {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runScheduledCycles(ctx, coord, trackerRepo)
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Sync Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Sync Service stopped")
}

func runScheduledCycles(ctx context.Context, coord *coordinator.Coordinator, repo *tracker.Repository) {
	users, err := repo.UsersWithPendingWork(ctx)
	if err != nil {
		logger.Log.WithError(err).Warn("could not list users for scheduled sync")
		return
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		result, err := coord.SyncUser(ctx, userID)
		if errors.Is(err, coordinator.ErrSyncInProgress) {
			continue
		}
		if err != nil {
			logger.Log.WithError(err).WithField("user_id", userID).Warn("scheduled sync failed")
			continue
		}
		logger.Log.WithFields(map[string]interface{}{
			"user_id": userID,
			"kind":    result.Kind,
			"synced":  result.SyncedMetricsCount,
			"failed":  result.FailedMetricsCount,
		}).Info("scheduled sync finished")
	}
}
