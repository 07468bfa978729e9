package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DROPMKT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DROPMKT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// --- Postgres ---
	setStr(&cfg.Postgres.DSN, "DROPMKT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DROPMKT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DROPMKT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DROPMKT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DROPMKT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DROPMKT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DROPMKT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DROPMKT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DROPMKT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DROPMKT_POSTGRES_RUN_MIGRATIONS")

	// --- Redis ---
	setStr(&cfg.Redis.Addr, "DROPMKT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DROPMKT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DROPMKT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DROPMKT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DROPMKT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DROPMKT_REDIS_TLS_ENABLED")

	// --- S3 ---
	setStr(&cfg.S3.Endpoint, "DROPMKT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DROPMKT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DROPMKT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DROPMKT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DROPMKT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DROPMKT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DROPMKT_S3_FORCE_PATH_STYLE")

	// --- Schedule ---
	setInt(&cfg.Schedule.PhaseCount, "DROPMKT_SCHEDULE_PHASE_COUNT")
	setInt(&cfg.Schedule.PhaseCapacity, "DROPMKT_SCHEDULE_PHASE_CAPACITY")
	setDuration(&cfg.Schedule.PhaseDuration, "DROPMKT_SCHEDULE_PHASE_DURATION")
	setInt64(&cfg.Schedule.BaseRateCents, "DROPMKT_SCHEDULE_BASE_RATE_CENTS")
	setFloat64(&cfg.Schedule.IncreasePercent, "DROPMKT_SCHEDULE_INCREASE_PERCENT")
	setInt64(&cfg.Schedule.CatalogSeed, "DROPMKT_SCHEDULE_CATALOG_SEED")
	setBool(&cfg.Schedule.SeedOnStart, "DROPMKT_SCHEDULE_SEED_ON_START")

	// --- Offers ---
	setDuration(&cfg.Offers.TTL, "DROPMKT_OFFERS_TTL")
	setInt(&cfg.Offers.ProposePerMinute, "DROPMKT_OFFERS_PROPOSE_PER_MINUTE")

	// --- Sweep ---
	setDuration(&cfg.Sweep.Interval, "DROPMKT_SWEEP_INTERVAL")

	// --- Archive ---
	setBool(&cfg.Archive.Enabled, "DROPMKT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "DROPMKT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "DROPMKT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "DROPMKT_ARCHIVE_PREFIX")

	// --- Settlement ---
	setBool(&cfg.Settlement.Enabled, "DROPMKT_SETTLEMENT_ENABLED")
	setStr(&cfg.Settlement.URL, "DROPMKT_SETTLEMENT_URL")
	setStr(&cfg.Settlement.Token, "DROPMKT_SETTLEMENT_TOKEN")

	// --- Server ---
	setBool(&cfg.Server.Enabled, "DROPMKT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DROPMKT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DROPMKT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminToken, "DROPMKT_SERVER_ADMIN_TOKEN")

	// --- Notify ---
	setStr(&cfg.Notify.TelegramToken, "DROPMKT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DROPMKT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DROPMKT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DROPMKT_NOTIFY_EVENTS")

	// --- Top-level ---
	setStr(&cfg.Mode, "DROPMKT_MODE")
	setStr(&cfg.LogLevel, "DROPMKT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
