package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chronicle-api",
		Short: "Chronicle save upload and leaderboard service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newRebalanceCommand(), newTokenCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("storage-mode", defaults.GetString("storage.mode"), "Object store (local, memory, gcs)")
	cmd.Flags().String("parser-url", "", "Save parser endpoint")
	cmd.Flags().String("redis-address", "", "Redis address for the leaderboard cache")

	bindFlag(cmd.PersistentFlags().Lookup("log-level"), "log.level")
	bindFlag(cmd.PersistentFlags().Lookup("database-driver"), "database.driver")
	bindFlag(cmd.PersistentFlags().Lookup("database-path"), "database.path")
	bindFlag(cmd.PersistentFlags().Lookup("database-dsn"), "database.dsn")
	bindFlag(cmd.PersistentFlags().Lookup("signing-secret"), "tauth.signing_secret")
	bindFlag(cmd.Flags().Lookup("http-address"), "http.address")
	bindFlag(cmd.Flags().Lookup("storage-mode"), "storage.mode")
	bindFlag(cmd.Flags().Lookup("parser-url"), "parser.url")
	bindFlag(cmd.Flags().Lookup("redis-address"), "redis.address")
}

func bindFlag(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
