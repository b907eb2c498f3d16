// Package postgres implements the storage.Backend interface on a shared
// PostgreSQL server. Several processes may write the same table, so the
// backend polls for rows it did not write itself.
package postgres

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sonder-map/sonder/internal/database"
	"github.com/sonder-map/sonder/internal/logging"
	gormstorage "github.com/sonder-map/sonder/internal/storage/gorm"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 2 * time.Second

// Config holds configuration for the Postgres storage backend.
type Config struct {
	database.PostgresConfig
	PollInterval time.Duration
	MaxOpenConns int
}

// Backend wraps the GORM backend with a Postgres connection.
type Backend struct {
	*gormstorage.Backend
	db *gorm.DB
}

// New connects to Postgres and builds the backend.
func New(cfg Config, logManager *logging.SlogManager) (*Backend, error) {
	db, err := database.GetPostgresDB(cfg.PostgresConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return NewWithDB(db, cfg, logManager)
}

// NewWithDB builds the backend on an open connection.
func NewWithDB(db *gorm.DB, cfg Config, logManager *logging.SlogManager) (*Backend, error) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:           db,
			LogManager:   logManager,
			PollInterval: cfg.PollInterval,
		}),
		db: db,
	}, nil
}

// Close stops the embedded backend and closes the connection pool.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
