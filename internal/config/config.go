// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Trading    TradingConfig    `toml:"trading"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Escrow     EscrowConfig     `toml:"escrow"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// TradingConfig holds the coordinator's limits and polling budgets.
type TradingConfig struct {
	Enabled         bool    `toml:"enabled"`
	MinProfitMargin float64 `toml:"min_profit_margin"`
	MaxDailyTrades  int     `toml:"max_daily_trades"`
	MaxInvestment   float64 `toml:"max_investment"`

	FillPollInterval       duration `toml:"fill_poll_interval"`
	FillMaxAttempts        int      `toml:"fill_max_attempts"`
	ResolutionPollInterval duration `toml:"resolution_poll_interval"`
	ResolutionMaxAttempts  int      `toml:"resolution_max_attempts"`

	ExecutionLockTTL duration `toml:"execution_lock_ttl"`
	OpportunitySweep duration `toml:"opportunity_sweep"`
}

// RateLimitConfig holds the default quota used until a venue announces its
// real one through response headers.
type RateLimitConfig struct {
	DefaultLimit  int      `toml:"default_limit"`
	DefaultWindow duration `toml:"default_window"`
}

// BreakerConfig holds the per-venue circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         duration `toml:"cooldown"`
	MaxCooldown      duration `toml:"max_cooldown"`
}

// WalletConfig holds the Ethereum wallet used for EIP-712 order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds CLOB endpoints and credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	ChainID       int    `toml:"chain_id"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
}

// EscrowConfig holds the escrow ledger endpoint and credentials.
type EscrowConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
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

// S3Config holds the audit archive's object storage parameters. An empty
// bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials. Events limits which
// alert types are delivered; empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5s" or "2m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			Enabled:                false,
			MinProfitMargin:        0.02,
			MaxDailyTrades:         20,
			MaxInvestment:          1000,
			FillPollInterval:       duration{5 * time.Second},
			FillMaxAttempts:        60,
			ResolutionPollInterval: duration{5 * time.Second},
			ResolutionMaxAttempts:  720,
			ExecutionLockTTL:       duration{2 * time.Minute},
			OpportunitySweep:       duration{time.Minute},
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:  10,
			DefaultWindow: duration{time.Second},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         duration{30 * time.Second},
			MaxCooldown:      duration{10 * time.Minute},
		},
		Polymarket: PolymarketConfig{
			ClobHost: "https://clob.polymarket.com",
			ChainID:  137,
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_stale", "rollback_failed", "settlement_deferred", "credit_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Trading.MinProfitMargin < 0 || c.Trading.MinProfitMargin >= 1 {
		errs = append(errs, fmt.Sprintf("trading: min_profit_margin must be in [0,1), got %v", c.Trading.MinProfitMargin))
	}
	if c.Trading.MaxDailyTrades < 0 {
		errs = append(errs, "trading: max_daily_trades must not be negative")
	}
	if c.Trading.MaxInvestment < 0 {
		errs = append(errs, "trading: max_investment must not be negative")
	}

	// Venue credentials are only required once trading is switched on; a
	// disabled engine can run recovery and monitoring without them.
	if c.Trading.Enabled {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when trading is enabled")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required when trading is enabled")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required when trading is enabled")
		}
		if c.Escrow.BaseURL == "" {
			errs = append(errs, "escrow: base_url is required when trading is enabled")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when a bucket is configured")
	}

	if c.RateLimit.DefaultLimit < 1 {
		errs = append(errs, "rate_limit: default_limit must be >= 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
