package kv

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sonder-map/sonder/internal/model"
)

// GormStore persists keys in the key_values table.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormStore migrates the key_values table and returns a store over db.
func NewGormStore(db *gorm.DB, logger *slog.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&model.KeyValue{}); err != nil {
		return nil, fmt.Errorf("migrate key_values: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) Get(key string) (string, bool) {
	var row model.KeyValue
	err := s.db.Where("key = ?", key).Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("Failed to read key", "key", key, "error", err)
		}
		return "", false
	}
	return row.Value, true
}

func (s *GormStore) Set(key, value string) error {
	row := model.KeyValue{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Remove(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&model.KeyValue{}).Error; err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
