// Package rebalance recomputes stored weighted scores against a new reference patch.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/scoring"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

var errMissingDatabase = errors.New("rebalance: database connection required")

// Invalidator is notified after a run rewrote at least one score.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Config describes the dependencies of the job.
type Config struct {
	Database         *gorm.DB
	Logger           *zap.Logger
	Metrics          *metrics.Recorder
	Leaderboard      Invalidator
	LatestPatchMinor int
	BatchSize        int
}

// Job rewrites the weighted score column.
type Job struct {
	db               *gorm.DB
	logger           *zap.Logger
	metrics          *metrics.Recorder
	leaderboard      Invalidator
	latestPatchMinor int
	batchSize        int
}

// Report summarises one run.
type Report struct {
	LatestPatchMinor int   `json:"latest_patch_minor"`
	Scanned          int   `json:"scanned"`
	Updated          int   `json:"updated"`
	DurationMillis   int64 `json:"duration_ms"`
}

// NewJob validates the configuration.
func NewJob(cfg Config) (*Job, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Job{
		db:               cfg.Database,
		logger:           logger,
		metrics:          cfg.Metrics,
		leaderboard:      cfg.Leaderboard,
		latestPatchMinor: cfg.LatestPatchMinor,
		batchSize:        batchSize,
	}, nil
}

type scoreRow struct {
	ID            string `gorm:"column:id"`
	RawDays       int64  `gorm:"column:raw_days"`
	PatchMinor    int    `gorm:"column:patch_minor"`
	WeightedScore *int64 `gorm:"column:weighted_score"`
}

// Run recomputes every stored score. A nil override uses the configured
// reference. A failed run may simply be retried.
func (j *Job) Run(ctx context.Context, latestPatchMinorOverride *int) (Report, error) {
	started := time.Now()
	reference := j.latestPatchMinor
	if latestPatchMinorOverride != nil {
		reference = *latestPatchMinorOverride
	}
	if reference < 0 {
		return Report{}, fmt.Errorf("rebalance: invalid reference patch minor %d", reference)
	}

	report := Report{LatestPatchMinor: reference}
	cursor := ""
	for {
		var batch []scoreRow
		if err := j.db.WithContext(ctx).
			Model(&saves.Save{}).
			Select("id, raw_days, patch_minor, weighted_score").
			Where("id > ?", cursor).
			Order("id ASC").
			Limit(j.batchSize).
			Find(&batch).Error; err != nil {
			j.logger.Error("rebalance batch read failed", zap.String("cursor", cursor), zap.Error(err))
			return report, fmt.Errorf("rebalance: read batch after %q: %w", cursor, err)
		}
		if len(batch) == 0 {
			break
		}

		updated, err := j.applyBatch(ctx, batch, reference)
		if err != nil {
			j.logger.Error("rebalance batch write failed", zap.String("cursor", cursor), zap.Error(err))
			return report, fmt.Errorf("rebalance: write batch after %q: %w", cursor, err)
		}
		report.Scanned += len(batch)
		report.Updated += updated
		cursor = batch[len(batch)-1].ID
		if len(batch) < j.batchSize {
			break
		}
	}

	elapsed := time.Since(started)
	report.DurationMillis = elapsed.Milliseconds()
	j.metrics.ObserveRebalance(report.Updated, elapsed)
	if report.Updated > 0 && j.leaderboard != nil {
		if err := j.leaderboard.Invalidate(ctx); err != nil {
			j.logger.Warn("leaderboard invalidation failed", zap.Error(err))
		}
	}
	j.logger.Info("rebalance completed",
		zap.Int("latest_patch_minor", report.LatestPatchMinor),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Duration("elapsed", elapsed))
	return report, nil
}

func (j *Job) applyBatch(ctx context.Context, batch []scoreRow, reference int) (int, error) {
	updated := 0
	err := j.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		updated = 0
		for _, row := range batch {
			score := scoring.WeightedScore(row.RawDays, row.PatchMinor, reference)
			if row.WeightedScore != nil && *row.WeightedScore == score {
				continue
			}
			if err := transaction.Model(&saves.Save{}).
				Where("id = ?", row.ID).
				Update("weighted_score", score).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}
