package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/config"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/parser"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/rebalance"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/server"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var cleanup closers
	defer func() { cleanup.closeAll(logger) }()

	db, err := openDatabase(appConfig, logger, &cleanup)
	if err != nil {
		return err
	}
	blobs, err := openBlobStore(ctx, appConfig, logger, &cleanup)
	if err != nil {
		return err
	}
	cache, err := openLeaderboardCache(ctx, appConfig, logger, &cleanup)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()

	gateway, err := parser.NewHTTPGateway(parser.HTTPGatewayConfig{
		URL:     appConfig.ParserURL,
		Timeout: appConfig.ParserTimeout,
	})
	if err != nil {
		return err
	}

	leaderboards, err := newLeaderboardService(db, cache, appConfig, logger, recorder)
	if err != nil {
		return err
	}

	saveService, err := saves.NewService(saves.ServiceConfig{
		Database:         db,
		Blobs:            blobs,
		Gateway:          gateway,
		IDProvider:       saves.NewUUIDProvider(),
		Clock:            time.Now,
		Logger:           logger,
		Metrics:          recorder,
		Leaderboard:      leaderboards,
		LatestPatchMinor: appConfig.LatestPatchMinor,
		MaxUploadBytes:   appConfig.UploadMaxBytes,
		UploadTimeout:    appConfig.UploadTimeout,
	})
	if err != nil {
		return err
	}

	rebalanceJob, err := rebalance.NewJob(rebalance.Config{
		Database:         db,
		Logger:           logger,
		Metrics:          recorder,
		Leaderboard:      leaderboards,
		LatestPatchMinor: appConfig.LatestPatchMinor,
		BatchSize:        appConfig.RebalanceBatchSize,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Users:            userService,
		Saves:            saveService,
		Leaderboards:     leaderboards,
		Rebalancer:       rebalanceJob,
		Metrics:          recorder,
		Logger:           logger,
		AllowedOrigins:   appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_mode", appConfig.StorageMode),
			zap.Int("latest_patch_minor", appConfig.LatestPatchMinor))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := saveService.WaitForCleanup(shutdownCtx); err != nil {
			logger.Warn("pending object cleanups abandoned", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		return err
	}
}
