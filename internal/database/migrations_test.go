package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openRawDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&saves.Save{}, &saves.SaveAchievement{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsRebuildsAchievementIndex(testContext *testing.T) {
	database := openRawDatabase(testContext)

	save := saves.Save{
		ID:             "legacy-save",
		UserID:         "user-1",
		Filename:       "legacy.eu4",
		ContentHash:    "legacy-hash",
		PlaythroughID:  "playthrough-1",
		GameDate:       "1444.11.11",
		AchievementIDs: []int{18, 42},
		CreatedOn:      time.Unix(100, 0).UTC(),
	}
	if err := database.Create(&save).Error; err != nil {
		testContext.Fatalf("failed to insert save: %v", err)
	}
	existing := saves.SaveAchievement{SaveID: "legacy-save", AchievementID: 18}
	if err := database.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert existing link: %v", err)
	}
	orphan := saves.SaveAchievement{SaveID: "deleted-save", AchievementID: 52}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert orphan link: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var links []saves.SaveAchievement
	if err := database.Order("save_id, achievement_id").Find(&links).Error; err != nil {
		testContext.Fatalf("failed to load links: %v", err)
	}
	if len(links) != 2 {
		testContext.Fatalf("expected two links after migration, got %+v", links)
	}
	if links[0].SaveID != "legacy-save" || links[0].AchievementID != 18 || links[1].AchievementID != 42 {
		testContext.Fatalf("unexpected links: %+v", links)
	}

	for _, name := range []string{migrationBackfillSaveAchievements, migrationPruneOrphanAchievements} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set for %s", name)
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openRawDatabase(testContext)
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}

	orphan := saves.SaveAchievement{SaveID: "gone", AchievementID: 18}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert orphan link: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}

	var count int64
	if err := database.Model(&saves.SaveAchievement{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count links: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected recorded migrations to be skipped, got %d links", count)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Options{Driver: DriverSQLite}, nil); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	for _, table := range []string{"saves", "save_achievements", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}
