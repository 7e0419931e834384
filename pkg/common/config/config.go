package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost            string
	PostgresPort            string
	PostgresUser            string
	PostgresPassword        string
	PostgresDB              string
	PostgresSSLMode         string
	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	SyncEventsTopic string

	// Sync behaviour
	EnabledPlatforms    []string
	SyncInterval        time.Duration
	SyncBatchSize       int
	SyncMaxRetries      int
	ConflictStrategy    string
	EnableOfflineCache  bool
	EnableValidation    bool
	EnableBidirectional bool

	// Retry backoff for queued operations
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	// Platform adapters
	AdapterTimeout     time.Duration
	GarminBaseURL      string
	GarminClientID     string
	GarminClientSecret string
	GarminTokenURL     string

	// Cloud store
	CloudBaseURL        string
	CloudRequestTimeout time.Duration
	CloudRetryAttempts  int

	// Offline cache
	OfflineCacheTTL time.Duration

	// Per-user sync lock lease
	SyncLockTTL time.Duration

	// Validation rule catalog (optional override of built-in defaults)
	ValidationRulesPath string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		PostgresHost:            getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:            getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:            getEnv("POSTGRES_USER", "welltrack"),
		PostgresPassword:        getEnv("POSTGRES_PASSWORD", "welltrack123"),
		PostgresDB:              getEnv("POSTGRES_DB", "welltrack"),
		PostgresSSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxOpenConns:    getIntEnv("POSTGRES_MAX_OPEN_CONNS", 25),
		PostgresMaxIdleConns:    getIntEnv("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnMaxLifetime: getDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "welltrack-sync"),
		SyncEventsTopic: getEnv("SYNC_EVENTS_TOPIC", "health-sync-events"),

		EnabledPlatforms:    getStringSliceEnv("SYNC_ENABLED_PLATFORMS", []string{"garmin"}),
		SyncInterval:        getDuration("SYNC_INTERVAL", time.Hour),
		SyncBatchSize:       getIntEnv("SYNC_BATCH_SIZE", 100),
		SyncMaxRetries:      getIntEnv("SYNC_MAX_RETRIES", 3),
		ConflictStrategy:    getEnv("SYNC_CONFLICT_STRATEGY", "LATEST_WINS"),
		EnableOfflineCache:  getBoolEnv("SYNC_ENABLE_OFFLINE_CACHE", true),
		EnableValidation:    getBoolEnv("SYNC_ENABLE_VALIDATION", true),
		EnableBidirectional: getBoolEnv("SYNC_ENABLE_BIDIRECTIONAL", true),

		RetryBackoffBase: getDuration("SYNC_RETRY_BACKOFF_BASE", 2*time.Second),
		RetryBackoffCap:  getDuration("SYNC_RETRY_BACKOFF_CAP", 5*time.Minute),

		AdapterTimeout:     getDuration("PLATFORM_ADAPTER_TIMEOUT", 30*time.Second),
		GarminBaseURL:      getEnv("GARMIN_BASE_URL", "https://apis.garmin.com/wellness-api/rest"),
		GarminClientID:     getEnv("GARMIN_CLIENT_ID", ""),
		GarminClientSecret: getEnv("GARMIN_CLIENT_SECRET", ""),
		GarminTokenURL:     getEnv("GARMIN_TOKEN_URL", "https://connectapi.garmin.com/oauth-service/token"),

		CloudBaseURL:        getEnv("CLOUD_STORE_BASE_URL", "http://localhost:8090"),
		CloudRequestTimeout: getDuration("CLOUD_REQUEST_TIMEOUT", 15*time.Second),
		CloudRetryAttempts:  getIntEnv("CLOUD_RETRY_ATTEMPTS", 3),

		OfflineCacheTTL: getDuration("OFFLINE_CACHE_TTL", 24*time.Hour),

		SyncLockTTL: getDuration("SYNC_LOCK_TTL", 10*time.Minute),

		ValidationRulesPath: getEnv("VALIDATION_RULES_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
