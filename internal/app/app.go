// Package app provides the top-level application lifecycle for the
// arbitrage engine. It wires together all dependencies (stores, the
// distributed lock, venue adapters, escrow, notifications) and runs the
// trade coordinator daemon: crash recovery, monitor re-arming, and the
// periodic opportunity sweep.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crwnlabs/crossarb/internal/config"
	"github.com/crwnlabs/crossarb/internal/engine"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and runs the coordinator daemon until the
// context is cancelled. It then waits for in-flight monitors to drain
// before returning.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Bool("trading_enabled", a.cfg.Trading.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	coordinator := engine.NewCoordinator(engine.Config{
		Enabled:                a.cfg.Trading.Enabled,
		MinProfitMargin:        a.cfg.Trading.MinProfitMargin,
		MaxDailyTrades:         a.cfg.Trading.MaxDailyTrades,
		MaxInvestment:          a.cfg.Trading.MaxInvestment,
		FillPollInterval:       a.cfg.Trading.FillPollInterval.Duration,
		FillMaxAttempts:        a.cfg.Trading.FillMaxAttempts,
		ResolutionPollInterval: a.cfg.Trading.ResolutionPollInterval.Duration,
		ResolutionMaxAttempts:  a.cfg.Trading.ResolutionMaxAttempts,
		ExecutionLockTTL:       a.cfg.Trading.ExecutionLockTTL.Duration,
	}, engine.Deps{
		Opportunities: deps.Opportunities,
		Trades:        deps.Trades,
		Escrow:        deps.Escrow,
		Venues:        deps.Venues,
		Locks:         deps.Locks,
		Notifier:      deps.Notifier,
		Archiver:      deps.Archiver,
		Logger:        a.logger,
	})

	runErr := coordinator.Run(ctx, a.cfg.Trading.OpportunitySweep.Duration)

	// Monitors are attempt-bounded; let in-flight ones finish so no trade
	// is left unobserved mid-poll.
	a.logger.Info("draining monitors")
	coordinator.Wait()

	return runErr
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
