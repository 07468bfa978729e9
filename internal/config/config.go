// Package config defines the top-level configuration for the drop market
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DROPMKT_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Offers     OffersConfig     `toml:"offers"`
	Sweep      SweepConfig      `toml:"sweep"`
	Archive    ArchiveConfig    `toml:"archive"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScheduleConfig holds the release schedule parameters used to seed the
// phase skeleton and price items.
type ScheduleConfig struct {
	PhaseCount      int      `toml:"phase_count"`
	PhaseCapacity   int      `toml:"phase_capacity"`
	PhaseDuration   duration `toml:"phase_duration"`
	BaseRateCents   int64    `toml:"base_rate_cents"`
	IncreasePercent float64  `toml:"increase_percent"`
	CatalogSeed     int64    `toml:"catalog_seed"`
	SeedOnStart     bool     `toml:"seed_on_start"`
}

// OffersConfig holds resale offer parameters.
type OffersConfig struct {
	TTL              duration `toml:"ttl"`
	ProposePerMinute int      `toml:"propose_per_minute"`
}

// SweepConfig holds the offer expiry sweeper parameters.
type SweepConfig struct {
	Interval duration `toml:"interval"`
}

// ArchiveConfig holds the object storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
}

// SettlementConfig holds the external settlement service endpoint.
type SettlementConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminToken  string   `toml:"admin_token"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dropmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dropmarket-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Schedule: ScheduleConfig{
			PhaseCount:      10,
			PhaseCapacity:   2000,
			PhaseDuration:   duration{72 * time.Hour},
			BaseRateCents:   10,
			IncreasePercent: 10,
			CatalogSeed:     1,
			SeedOnStart:     false,
		},
		Offers: OffersConfig{
			TTL:              duration{48 * time.Hour},
			ProposePerMinute: 30,
		},
		Sweep: SweepConfig{
			Interval: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{6 * time.Hour},
			RetentionDays: 90,
			Prefix:        "archive",
		},
		Settlement: SettlementConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"phase_advanced", "phase_paused", "phase_resumed", "sale_completed", "offer_accepted"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sweep": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is required only when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Schedule
	if c.Schedule.PhaseCount < 1 {
		errs = append(errs, "schedule: phase_count must be >= 1")
	}
	if c.Schedule.PhaseCapacity < 1 {
		errs = append(errs, "schedule: phase_capacity must be >= 1")
	}
	if c.Schedule.PhaseDuration.Duration <= 0 {
		errs = append(errs, "schedule: phase_duration must be > 0")
	}
	if c.Schedule.BaseRateCents <= 0 {
		errs = append(errs, "schedule: base_rate_cents must be > 0")
	}
	if c.Schedule.IncreasePercent < 0 {
		errs = append(errs, "schedule: increase_percent must be >= 0")
	}

	// Offers
	if c.Offers.TTL.Duration <= 0 {
		errs = append(errs, "offers: ttl must be > 0")
	}
	if c.Offers.ProposePerMinute < 1 {
		errs = append(errs, "offers: propose_per_minute must be >= 1")
	}

	// Sweep
	if c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be > 0")
	}

	// Settlement
	if c.Settlement.Enabled && c.Settlement.URL == "" {
		errs = append(errs, "settlement: url must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AdminToken == "" {
			errs = append(errs, "server: admin_token must be set when the server is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
