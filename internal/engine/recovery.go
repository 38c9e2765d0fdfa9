package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crwnlabs/crossarb/internal/domain"
)

const recoveryBatchLimit = 500

// Recover re-arms the monitors for every trade the previous process left
// mid-flight: fill monitors for partial trades, resolution watches for
// completed ones. It also expires overdue active opportunities. Safe to
// call repeatedly; running monitors are not duplicated.
func (c *Coordinator) Recover(ctx context.Context) error {
	partial, err := c.trades.ListByStatus(ctx, domain.TradeStatusPartial, recoveryBatchLimit)
	if err != nil {
		return fmt.Errorf("engine: list partial trades: %w", err)
	}
	for _, trade := range partial {
		c.StartFillMonitor(ctx, trade.ID)
	}

	completed, err := c.trades.ListByStatus(ctx, domain.TradeStatusCompleted, recoveryBatchLimit)
	if err != nil {
		return fmt.Errorf("engine: list completed trades: %w", err)
	}
	for _, trade := range completed {
		c.StartResolutionWatch(ctx, trade.ID)
	}

	expired, err := c.opps.ExpireBefore(ctx, c.now())
	if err != nil {
		return fmt.Errorf("engine: expire opportunities: %w", err)
	}

	c.logger.Info("recovery complete",
		slog.Int("fill_monitors", len(partial)),
		slog.Int("resolution_watches", len(completed)),
		slog.Int64("opportunities_expired", expired),
	)
	return nil
}

// Run performs startup recovery and then sweeps overdue opportunities on
// the given interval until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context, sweepInterval time.Duration) error {
	if err := c.Recover(ctx); err != nil {
		return err
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.opps.ExpireBefore(ctx, c.now())
			if err != nil {
				c.logger.Error("opportunity sweep", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				c.logger.Info("opportunities expired", slog.Int64("count", n))
			}
		}
	}
}
