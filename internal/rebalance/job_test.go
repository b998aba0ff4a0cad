package rebalance

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	sqlite "github.com/glebarez/sqlite"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func openDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "rebalance.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&saves.Save{}, &saves.SaveAchievement{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedSave(testContext *testing.T, db *gorm.DB, index int, rawDays int64, patchMinor int, score *int64) {
	testContext.Helper()
	save := saves.Save{
		ID:            fmt.Sprintf("save-%03d", index),
		UserID:        "user",
		Filename:      "run.eu4",
		ContentHash:   fmt.Sprintf("hash-%03d", index),
		PlaythroughID: fmt.Sprintf("playthrough-%03d", index),
		GameDate:      "1600.1.1",
		RawDays:       rawDays,
		PatchMajor:    1,
		PatchMinor:    patchMinor,
		WeightedScore: score,
		CreatedOn:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&save).Error; err != nil {
		testContext.Fatalf("failed to seed save: %v", err)
	}
}

func storedScores(testContext *testing.T, db *gorm.DB) map[string]int64 {
	testContext.Helper()
	var rows []saves.Save
	if err := db.Order("id").Find(&rows).Error; err != nil {
		testContext.Fatalf("failed to load saves: %v", err)
	}
	scores := make(map[string]int64, len(rows))
	for _, row := range rows {
		if row.WeightedScore == nil {
			testContext.Fatalf("save %s has no score after rebalance", row.ID)
		}
		scores[row.ID] = *row.WeightedScore
	}
	return scores
}

func TestRebalanceJob(t *testing.T) {
	Convey("Given saves scored against an older reference", t, func() {
		db := openDatabase(t)
		initial := int64(1000)
		for index := 1; index <= 7; index++ {
			seedSave(t, db, index, 1000, 30+index, &initial)
		}
		var unscored *int64
		seedSave(t, db, 8, 200, 40, unscored)

		invalidator := &countingInvalidator{}
		job, err := NewJob(Config{Database: db, LatestPatchMinor: 35, BatchSize: 3, Leaderboard: invalidator})
		So(err, ShouldBeNil)

		Convey("A run rewrites only the scores that changed", func() {
			report, err := job.Run(context.Background(), nil)
			So(err, ShouldBeNil)
			So(report.LatestPatchMinor, ShouldEqual, 35)
			So(report.Scanned, ShouldEqual, 8)
			// minors 31..34 gain a penalty; 35..37 keep 1000; the unscored save is filled in
			So(report.Updated, ShouldEqual, 5)

			scores := storedScores(t, db)
			So(scores["save-001"], ShouldEqual, 1400)
			So(scores["save-004"], ShouldEqual, 1100)
			So(scores["save-005"], ShouldEqual, 1000)
			So(scores["save-008"], ShouldEqual, 200)
			So(invalidator.calls, ShouldEqual, 1)

			Convey("A second run with the same reference is a no-op", func() {
				second, err := job.Run(context.Background(), nil)
				So(err, ShouldBeNil)
				So(second.Scanned, ShouldEqual, 8)
				So(second.Updated, ShouldEqual, 0)
				So(storedScores(t, db), ShouldResemble, scores)
				So(invalidator.calls, ShouldEqual, 1)
			})
		})

		Convey("An override reference replaces the configured one", func() {
			override := 40
			report, err := job.Run(context.Background(), &override)
			So(err, ShouldBeNil)
			So(report.LatestPatchMinor, ShouldEqual, 40)

			scores := storedScores(t, db)
			So(scores["save-001"], ShouldEqual, 1900)
			So(scores["save-007"], ShouldEqual, 1300)
		})

		Convey("A negative reference is refused", func() {
			override := -1
			_, err := job.Run(context.Background(), &override)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewJobRequiresDatabase(t *testing.T) {
	if _, err := NewJob(Config{}); err == nil {
		t.Fatalf("expected error for missing database")
	}
}
