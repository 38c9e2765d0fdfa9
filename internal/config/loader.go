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
// built-in defaults, applies CROSSARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setBool(&cfg.Trading.Enabled, "CROSSARB_TRADING_ENABLED")
	setFloat64(&cfg.Trading.MinProfitMargin, "CROSSARB_TRADING_MIN_PROFIT_MARGIN")
	setInt(&cfg.Trading.MaxDailyTrades, "CROSSARB_TRADING_MAX_DAILY_TRADES")
	setFloat64(&cfg.Trading.MaxInvestment, "CROSSARB_TRADING_MAX_INVESTMENT")
	setDuration(&cfg.Trading.FillPollInterval, "CROSSARB_TRADING_FILL_POLL_INTERVAL")
	setInt(&cfg.Trading.FillMaxAttempts, "CROSSARB_TRADING_FILL_MAX_ATTEMPTS")
	setDuration(&cfg.Trading.ResolutionPollInterval, "CROSSARB_TRADING_RESOLUTION_POLL_INTERVAL")
	setInt(&cfg.Trading.ResolutionMaxAttempts, "CROSSARB_TRADING_RESOLUTION_MAX_ATTEMPTS")
	setDuration(&cfg.Trading.ExecutionLockTTL, "CROSSARB_TRADING_EXECUTION_LOCK_TTL")
	setDuration(&cfg.Trading.OpportunitySweep, "CROSSARB_TRADING_OPPORTUNITY_SWEEP")

	// ── Rate limit / breaker ──
	setInt(&cfg.RateLimit.DefaultLimit, "CROSSARB_RATE_LIMIT_DEFAULT_LIMIT")
	setDuration(&cfg.RateLimit.DefaultWindow, "CROSSARB_RATE_LIMIT_DEFAULT_WINDOW")
	setInt(&cfg.Breaker.FailureThreshold, "CROSSARB_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.Cooldown, "CROSSARB_BREAKER_COOLDOWN")
	setDuration(&cfg.Breaker.MaxCooldown, "CROSSARB_BREAKER_MAX_COOLDOWN")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CROSSARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CROSSARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CROSSARB_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "CROSSARB_POLYMARKET_CLOB_HOST")
	setInt(&cfg.Polymarket.ChainID, "CROSSARB_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.ApiKey, "CROSSARB_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "CROSSARB_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "CROSSARB_POLYMARKET_API_PASSPHRASE")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "CROSSARB_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "CROSSARB_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "CROSSARB_KALSHI_BASE_URL")

	// ── Escrow ──
	setStr(&cfg.Escrow.BaseURL, "CROSSARB_ESCROW_BASE_URL")
	setStr(&cfg.Escrow.ApiKey, "CROSSARB_ESCROW_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
