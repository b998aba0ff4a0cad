package main

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/config"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/rebalance"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRebalanceCommand() *cobra.Command {
	var latestPatchMinor int
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Recompute every stored weighted score against a reference patch",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadDatabase(viper.GetViper())
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
			cache, err := openLeaderboardCache(cmd.Context(), appConfig, logger, &cleanup)
			if err != nil {
				return err
			}

			job, err := rebalance.NewJob(rebalance.Config{
				Database:         db,
				Logger:           logger,
				Leaderboard:      cache,
				LatestPatchMinor: appConfig.LatestPatchMinor,
				BatchSize:        appConfig.RebalanceBatchSize,
			})
			if err != nil {
				return err
			}

			var override *int
			if cmd.Flags().Changed("latest-patch-minor") {
				override = &latestPatchMinor
			}
			report, err := job.Run(cmd.Context(), override)
			if err != nil {
				return err
			}

			encoded, err := json.Marshal(report)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
	cmd.Flags().IntVar(&latestPatchMinor, "latest-patch-minor", 0, "Reference patch minor (defaults to scoring.latest_patch_minor)")
	return cmd
}
