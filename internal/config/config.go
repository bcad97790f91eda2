package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all core configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Sweep     SweepConfig
	Wipe      WipeConfig
	Download  DownloadConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds control API configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8311"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StorageConfig holds ephemeral storage configuration.
type StorageConfig struct {
	// BaseDir is the root under which per-session directories are created.
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:""`
	// EnvExitTimeout bounds how long disposal waits for a released
	// environment's dependent process before wiping storage anyway.
	EnvExitTimeout time.Duration `envconfig:"ENV_EXIT_TIMEOUT" default:"3s"`
}

// SweepConfig holds orphan sweep configuration.
type SweepConfig struct {
	Interval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	Staleness time.Duration `envconfig:"SWEEP_STALENESS" default:"30m"`
	Enabled   bool          `envconfig:"SWEEP_ENABLED" default:"true"`
}

// WipeConfig holds secure deletion configuration.
type WipeConfig struct {
	// OverwriteCeiling is the largest file that gets random-overwritten
	// before removal. Larger files are removed without overwrite.
	OverwriteCeiling int64         `envconfig:"WIPE_OVERWRITE_CEILING" default:"104857600"`
	MaxRetries       int           `envconfig:"WIPE_MAX_RETRIES" default:"3"`
	RetryBackoff     time.Duration `envconfig:"WIPE_RETRY_BACKOFF" default:"100ms"`
}

// DownloadConfig holds quarantine gate configuration.
type DownloadConfig struct {
	AllowedTypes      []string `envconfig:"DOWNLOAD_ALLOWED_TYPES" default:"application/pdf,application/zip,application/json,text/plain,text/csv,image/png,image/jpeg,image/gif,image/webp,audio/mpeg,video/mp4,application/octet-stream"`
	BlockedExtensions []string `envconfig:"DOWNLOAD_BLOCKED_EXTENSIONS" default:".exe,.msi,.bat,.cmd,.scr,.ps1,.vbs,.js,.jar,.com,.pif,.dll"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"200"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"400"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SABLE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8311",
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			EnvExitTimeout: 3 * time.Second,
		},
		Sweep: SweepConfig{
			Interval:  5 * time.Minute,
			Staleness: 30 * time.Minute,
			Enabled:   true,
		},
		Wipe: WipeConfig{
			OverwriteCeiling: 100 << 20,
			MaxRetries:       3,
			RetryBackoff:     100 * time.Millisecond,
		},
		Download: DownloadConfig{
			AllowedTypes: []string{
				"application/pdf", "application/zip", "application/json",
				"text/plain", "text/csv",
				"image/png", "image/jpeg", "image/gif", "image/webp",
				"audio/mpeg", "video/mp4",
				"application/octet-stream",
			},
			BlockedExtensions: []string{
				".exe", ".msi", ".bat", ".cmd", ".scr", ".ps1",
				".vbs", ".js", ".jar", ".com", ".pif", ".dll",
			},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 200,
			Burst:             400,
			Enabled:           true,
		},
	}
}
