package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/achievements"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/config"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/database"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// closers collects shutdown hooks run in reverse order.
type closers []func() error

func (c *closers) add(closer func() error) {
	*c = append(*c, closer)
}

func (c closers) closeAll(logger *zap.Logger) {
	for index := len(c) - 1; index >= 0; index-- {
		if err := c[index](); err != nil && logger != nil {
			logger.Warn("shutdown hook failed", zap.Error(err))
		}
	}
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger, cleanup *closers) (*gorm.DB, error) {
	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	cleanup.add(sqlDB.Close)
	return db, nil
}

func openBlobStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, cleanup *closers) (blobstore.Store, error) {
	switch appConfig.StorageMode {
	case config.StorageModeMemory:
		logger.Warn("using in-memory object store; uploads are lost on restart")
		return blobstore.NewMemoryStore(), nil
	case config.StorageModeLocal:
		return blobstore.NewFilesystemStore(appConfig.StorageLocalDir)
	case config.StorageModeGCS:
		store, err := blobstore.NewGCSStore(ctx, blobstore.GCSConfig{
			Bucket:       appConfig.StorageBucket,
			EmulatorHost: appConfig.StorageEmulator,
		})
		if err != nil {
			return nil, err
		}
		cleanup.add(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage mode %q", appConfig.StorageMode)
	}
}

func openLeaderboardCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, cleanup *closers) (leaderboard.Cache, error) {
	if appConfig.RedisAddress == "" {
		return leaderboard.NopCache{}, nil
	}
	client, err := leaderboard.DialRedis(ctx, appConfig.RedisAddress)
	if err != nil {
		return nil, err
	}
	cleanup.add(client.Close)
	logger.Info("leaderboard cache enabled", zap.String("redis_address", appConfig.RedisAddress))
	return leaderboard.NewRedisCache(leaderboard.RedisCacheConfig{Client: client, TTL: appConfig.RedisTTL})
}

func newLeaderboardService(db *gorm.DB, cache leaderboard.Cache, appConfig config.AppConfig, logger *zap.Logger, recorder *metrics.Recorder) (*leaderboard.Service, error) {
	catalog, err := achievements.Default()
	if err != nil {
		return nil, err
	}
	return leaderboard.NewService(leaderboard.ServiceConfig{
		Database:      db,
		Catalog:       catalog,
		Cache:         cache,
		Logger:        logger,
		Metrics:       recorder,
		DefaultLimit:  appConfig.LeaderboardLimit,
		MedalPageSize: appConfig.MedalPageSize,
	})
}
