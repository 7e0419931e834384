package database

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/beaconledger/welltrack-sync/pkg/common/config"
	"github.com/beaconledger/welltrack-sync/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

func GetPostgres() (*gorm.DB, error) {
	var err error
	dbOnce.Do(func() {
		cfg := config.Load()
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.PostgresHost,
			cfg.PostgresUser,
			cfg.PostgresPassword,
			cfg.PostgresDB,
			cfg.PostgresPort,
			cfg.PostgresSSLMode,
		)

		// The sync workload is many short repeated statements; reuse
		// prepared statements instead of re-parsing them per call.
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			PrepareStmt: true,
		})
		if err != nil {
			logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
			return
		}

		var sqlDB *sql.DB
		sqlDB, err = db.DB()
		if err != nil {
			logger.Log.WithError(err).Error("Failed to access connection pool")
			return
		}
		sqlDB.SetMaxOpenConns(cfg.PostgresMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.PostgresMaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.PostgresConnMaxLifetime)

		logger.Log.WithFields(map[string]interface{}{
			"max_open_conns": cfg.PostgresMaxOpenConns,
			"max_idle_conns": cfg.PostgresMaxIdleConns,
		}).Info("Connected to PostgreSQL")
	})

	return db, err
}

func ClosePostgres() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
