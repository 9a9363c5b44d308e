package database

import (
	"errors"
	"time"

	"github.com/rankcycle/backend/internal/goals"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillSerpFeaturesPaused = "2026-01-19_backfill_serp_features_paused_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSerpFeaturesPaused, apply: backfillSerpFeaturesPausedStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillSerpFeaturesPausedStatus repairs rows created before SERP-feature
// goals were carved out as unconditionally paused.
func backfillSerpFeaturesPausedStatus(db *gorm.DB) error {
	return db.Model(&goals.Goal{}).
		Where("goal_type = ? AND status = ?", string(goals.GoalTypeSerpFeatures), string(goals.StatusOnTrack)).
		Update("status", string(goals.StatusPaused)).Error
}
