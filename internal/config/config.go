package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the MedAIx server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Scorer   ScorerConfig
	Quota    QuotaConfig
	Cleanup  CleanupConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	UploadDir      string
	MaxUploadBytes int64
}

type ScorerConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Remote           RemoteScorerConfig
}

type RemoteScorerConfig struct {
	BaseURL string
	Model   string
}

type QuotaConfig struct {
	DailyFreeLimit int
}

type CleanupConfig struct {
	PendingGracePeriod time.Duration
	SweepInterval      time.Duration
}

var validProviders = map[string]bool{
	"standin": true,
	"remote":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("MEDAIX_PORT", 8080),
			Env:  envString("MEDAIX_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			UploadDir:      envString("MEDAIX_UPLOAD_DIR", "uploads"),
			MaxUploadBytes: envInt64("MEDAIX_MAX_UPLOAD_BYTES", 50*1024*1024),
		},
		Scorer: ScorerConfig{
			Provider:         envString("SCORER_PROVIDER", "standin"),
			InferenceTimeout: envDurationSecs("SCORER_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Remote: RemoteScorerConfig{
				BaseURL: os.Getenv("SCORER_REMOTE_BASE_URL"),
				Model:   envString("SCORER_REMOTE_MODEL", "medaix-cnn-v3"),
			},
		},
		Quota: QuotaConfig{
			DailyFreeLimit: envInt("QUOTA_DAILY_FREE_LIMIT", 3),
		},
		Cleanup: CleanupConfig{
			PendingGracePeriod: envDurationSecs("CLEANUP_PENDING_GRACE_SECS", 60*time.Second),
			SweepInterval:      envDurationSecs("CLEANUP_SWEEP_INTERVAL_SECS", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Scorer.Provider] {
		return fmt.Errorf("SCORER_PROVIDER must be one of standin, remote; got %q", c.Scorer.Provider)
	}
	if c.Scorer.Provider == "remote" && c.Scorer.Remote.BaseURL == "" {
		return fmt.Errorf("SCORER_REMOTE_BASE_URL is required when SCORER_PROVIDER is remote")
	}

	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("MEDAIX_MAX_UPLOAD_BYTES must be positive")
	}

	if c.Quota.DailyFreeLimit < 0 {
		return fmt.Errorf("QUOTA_DAILY_FREE_LIMIT must not be negative")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
