package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationBackfillSaveAchievements = "2026-09-14_backfill_save_achievements"
	migrationPruneOrphanAchievements  = "2026-09-14_prune_orphan_save_achievements"

	backfillBatchSize = 200
)

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
		{name: migrationBackfillSaveAchievements, apply: backfillSaveAchievements},
		{name: migrationPruneOrphanAchievements, apply: pruneOrphanSaveAchievements},
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

// backfillSaveAchievements rebuilds the achievement index from the JSON
// column for saves written before the index table existed.
func backfillSaveAchievements(db *gorm.DB) error {
	cursor := ""
	for {
		var batch []saves.Save
		if err := db.Select("id, achievement_ids").
			Where("id > ?", cursor).
			Order("id ASC").
			Limit(backfillBatchSize).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		links := make([]saves.SaveAchievement, 0, len(batch))
		for _, save := range batch {
			for _, achievementID := range save.AchievementIDs {
				links = append(links, saves.SaveAchievement{SaveID: save.ID, AchievementID: achievementID})
			}
		}
		if len(links) > 0 {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error; err != nil {
				return err
			}
		}
		cursor = batch[len(batch)-1].ID
	}
}

func pruneOrphanSaveAchievements(db *gorm.DB) error {
	return db.Where("save_id NOT IN (?)", db.Model(&saves.Save{}).Select("id")).
		Delete(&saves.SaveAchievement{}).Error
}
