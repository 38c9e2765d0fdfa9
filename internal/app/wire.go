package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/crwnlabs/crossarb/internal/blob/s3"
	"github.com/crwnlabs/crossarb/internal/cache/redis"
	"github.com/crwnlabs/crossarb/internal/config"
	"github.com/crwnlabs/crossarb/internal/crypto"
	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/escrow"
	"github.com/crwnlabs/crossarb/internal/notify"
	"github.com/crwnlabs/crossarb/internal/platform/kalshi"
	"github.com/crwnlabs/crossarb/internal/platform/polymarket"
	"github.com/crwnlabs/crossarb/internal/resilience"
	"github.com/crwnlabs/crossarb/internal/store/postgres"
	"github.com/crwnlabs/crossarb/internal/venue"
)

// Dependencies bundles every collaborator the coordinator needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Escrow        domain.Escrow
	Venues        map[domain.Venue]venue.Adapter
	Locks         domain.LockManager
	Notifier      *notify.Notifier
	Archiver      domain.TradeArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
//
// Venue adapters are only built when trading is enabled: they need signing
// credentials that a monitoring-only deployment does not carry.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Venues: make(map[domain.Venue]venue.Adapter),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Opportunities = postgres.NewOpportunityStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Escrow ledger ---
	deps.Escrow = escrow.NewClient(cfg.Escrow.BaseURL, cfg.Escrow.ApiKey, logger)

	// --- Venue adapters (trading only) ---
	if cfg.Trading.Enabled {
		if err := wireVenues(ctx, cfg, logger, deps); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// --- S3 audit archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewTradeArchiver(s3Client, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	events := make([]notify.Event, 0, len(cfg.Notify.Events))
	for _, e := range cfg.Notify.Events {
		events = append(events, notify.Event(e))
	}
	deps.Notifier = notify.NewNotifier(senders, events, logger)

	return deps, cleanup, nil
}

// wireVenues builds the per-venue resilience wrappers, signing clients, and
// adapters, and registers them in deps.Venues.
func wireVenues(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) error {
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Duration,
		MaxCooldown:      cfg.Breaker.MaxCooldown.Duration,
	}
	limiterCfg := resilience.LimiterConfig{
		DefaultLimit:  cfg.RateLimit.DefaultLimit,
		DefaultWindow: cfg.RateLimit.DefaultWindow.Duration,
	}

	// Polymarket: EIP-712 wallet signer plus HMAC order-API credentials.
	// Without pre-provisioned credentials the client derives them through
	// the auth handshake.
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
	if err != nil {
		return fmt.Errorf("wire: signer: %w", err)
	}

	var hmacAuth *crypto.HMACAuth
	if cfg.Polymarket.ApiKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}

	polyLimiter := resilience.NewLimiter("polymarket", limiterCfg, logger)
	polyBreaker := resilience.NewBreaker("polymarket", breakerCfg, logger)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth).
		WithRateObserver(polyLimiter)
	if hmacAuth == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("wire: polymarket auth: %w", err)
		}
	}
	deps.Venues[domain.VenuePolymarket] = venue.NewPolymarketAdapter(clob, signer, polyBreaker, polyLimiter, logger)

	// Kalshi: RSA-PSS request signing with a key loaded from disk.
	kalshiLimiter := resilience.NewLimiter("kalshi", limiterCfg, logger)
	kalshiBreaker := resilience.NewBreaker("kalshi", breakerCfg, logger)
	kalshiClient := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey).
		WithRateObserver(kalshiLimiter)
	pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
	if err != nil {
		return fmt.Errorf("wire: kalshi key: %w", err)
	}
	if err := kalshiClient.SetRSAPrivateKey(pemBytes); err != nil {
		return fmt.Errorf("wire: kalshi key: %w", err)
	}
	deps.Venues[domain.VenueKalshi] = venue.NewKalshiAdapter(kalshiClient, kalshiBreaker, kalshiLimiter, logger)

	return nil
}
