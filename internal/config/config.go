package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CHRONICLE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DatabaseDriverSQLite
	defaultDatabasePath    = "chronicle.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "app_session"
	defaultIssuer          = "chronicle"
	defaultStorageMode     = StorageModeLocal
	defaultStorageLocalDir = "data/objects"
	defaultParserTimeout   = 30 * time.Second
	defaultUploadMaxBytes  = 20 << 20
	defaultUploadTimeout   = 2 * time.Minute
	defaultLatestPatch     = 37
	defaultBoardLimit      = 100
	defaultMedalPageSize   = 10
	defaultBatchSize       = 500
	defaultRedisTTL        = 5 * time.Minute
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported object store modes.
const (
	StorageModeLocal  = "local"
	StorageModeMemory = "memory"
	StorageModeGCS    = "gcs"
)

// AppConfig captures runtime configuration for the API server and the CLI jobs.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	LogLevel           string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	TAuthSigningKey    string
	TAuthCookieName    string
	TAuthIssuer        string
	StorageMode        string
	StorageLocalDir    string
	StorageBucket      string
	StorageEmulator    string
	ParserURL          string
	ParserTimeout      time.Duration
	UploadMaxBytes     int64
	UploadTimeout      time.Duration
	LatestPatchMinor   int
	LeaderboardLimit   int
	MedalPageSize      int
	RebalanceBatchSize int
	RedisAddress       string
	RedisTTL           time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultIssuer)
	configViper.SetDefault("storage.mode", defaultStorageMode)
	configViper.SetDefault("storage.local_dir", defaultStorageLocalDir)
	configViper.SetDefault("parser.timeout", defaultParserTimeout)
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("upload.timeout", defaultUploadTimeout)
	configViper.SetDefault("scoring.latest_patch_minor", defaultLatestPatch)
	configViper.SetDefault("leaderboard.default_limit", defaultBoardLimit)
	configViper.SetDefault("leaderboard.medal_page_size", defaultMedalPageSize)
	configViper.SetDefault("rebalance.batch_size", defaultBatchSize)
	configViper.SetDefault("redis.ttl", defaultRedisTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		AllowedOrigins:     configViper.GetStringSlice("http.allowed_origins"),
		LogLevel:           configViper.GetString("log.level"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		TAuthSigningKey:    configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:    configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:        configViper.GetString("tauth.issuer"),
		StorageMode:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.mode"))),
		StorageLocalDir:    configViper.GetString("storage.local_dir"),
		StorageBucket:      configViper.GetString("storage.bucket"),
		StorageEmulator:    configViper.GetString("storage.emulator_host"),
		ParserURL:          configViper.GetString("parser.url"),
		ParserTimeout:      configViper.GetDuration("parser.timeout"),
		UploadMaxBytes:     configViper.GetInt64("upload.max_bytes"),
		UploadTimeout:      configViper.GetDuration("upload.timeout"),
		LatestPatchMinor:   configViper.GetInt("scoring.latest_patch_minor"),
		LeaderboardLimit:   configViper.GetInt("leaderboard.default_limit"),
		MedalPageSize:      configViper.GetInt("leaderboard.medal_page_size"),
		RebalanceBatchSize: configViper.GetInt("rebalance.batch_size"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisTTL:           configViper.GetDuration("redis.ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only what the offline jobs need to reach the database.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LogLevel:           configViper.GetString("log.level"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LatestPatchMinor:   configViper.GetInt("scoring.latest_patch_minor"),
		RebalanceBatchSize: configViper.GetInt("rebalance.batch_size"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisTTL:           configViper.GetDuration("redis.ttl"),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	if cfg.LatestPatchMinor < 0 {
		return AppConfig{}, fmt.Errorf("scoring.latest_patch_minor must not be negative")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	switch c.StorageMode {
	case StorageModeLocal:
		if strings.TrimSpace(c.StorageLocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required when storage.mode is %q", StorageModeLocal)
		}
	case StorageModeMemory:
	case StorageModeGCS:
		if strings.TrimSpace(c.StorageBucket) == "" {
			return fmt.Errorf("storage.bucket is required when storage.mode is %q", StorageModeGCS)
		}
	default:
		return fmt.Errorf("storage.mode %q is not supported", c.StorageMode)
	}
	if strings.TrimSpace(c.ParserURL) == "" {
		return fmt.Errorf("parser.url is required")
	}
	if c.ParserTimeout <= 0 {
		return fmt.Errorf("parser.timeout must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("upload.timeout must be positive")
	}
	if c.LatestPatchMinor < 0 {
		return fmt.Errorf("scoring.latest_patch_minor must not be negative")
	}
	if c.LeaderboardLimit <= 0 {
		return fmt.Errorf("leaderboard.default_limit must be positive")
	}
	if c.MedalPageSize <= 0 {
		return fmt.Errorf("leaderboard.medal_page_size must be positive")
	}
	return nil
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required when database.driver is %q", DatabaseDriverPostgres)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.RebalanceBatchSize <= 0 {
		return fmt.Errorf("rebalance.batch_size must be positive")
	}
	return nil
}
