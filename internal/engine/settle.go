package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/notify"
)

// settle closes out a completed trade whose markets have both resolved:
// compute the payout, release escrow, record realized profit with the
// conditional completed -> settled transition, credit any profit, and
// archive the audit snapshot. Release comes first and is idempotent, so a
// failed release leaves the trade completed and the watch retries the whole
// step; the conditional transition makes double settlement impossible and
// gates the credit, so profit is credited at most once.
func (c *Coordinator) settle(ctx context.Context, tradeID string, outcomes [2]domain.MarketResolution) error {
	ctx = context.WithoutCancel(ctx)

	trade, err := c.trades.GetByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("engine: load trade for settlement: %w", err)
	}

	var payout float64
	for i, leg := range trade.Legs {
		if legWon(leg.Side, outcomes[i]) {
			payout += leg.Shares
		}
	}
	actualProfit := payout - trade.InvestmentAmount

	// Release before the settled transition. A failed release returns with
	// the trade still completed, so the watch retries it; a retry after a
	// crash or a lost settlement race re-releases the same lock as a no-op.
	if trade.EscrowLockID != "" {
		if err := c.escrow.Release(ctx, trade.EscrowLockID, "trade settled"); err != nil {
			return fmt.Errorf("engine: release escrow for settlement: %w", err)
		}
	}

	if err := c.trades.Settle(ctx, tradeID, actualProfit); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Someone else settled first; their numbers stand.
			return nil
		}
		return fmt.Errorf("engine: settle trade: %w", err)
	}
	trade.Status = domain.TradeStatusSettled
	trade.ActualProfit = &actualProfit

	if actualProfit > 0 {
		if err := c.escrow.Credit(ctx, trade.UserID, actualProfit,
			fmt.Sprintf("arbitrage profit, trade %s", trade.ID)); err != nil {
			// The trade is already settled; the watch will not come back
			// for it, so the uncredited profit needs a human.
			c.alert(ctx, notify.EventCreditFailed, trade,
				fmt.Sprintf("profit %.2f uncredited: %v", actualProfit, err))
			return fmt.Errorf("engine: credit profit: %w", err)
		}
	}

	c.logger.Info("trade settled",
		slog.String("trade_id", trade.ID),
		slog.Float64("payout", payout),
		slog.Float64("actual_profit", actualProfit),
		slog.Float64("expected_profit", trade.ExpectedProfit),
	)

	c.alert(ctx, notify.EventTradeSettled, trade,
		fmt.Sprintf("payout %.2f, profit %.2f", payout, actualProfit))
	c.archive(ctx, trade)
	return nil
}

// legWon reports whether a leg's side matched the market's boolean outcome.
func legWon(side domain.Side, res domain.MarketResolution) bool {
	if side == domain.SideYes {
		return res.Outcome
	}
	return !res.Outcome
}

// archive writes the trade's audit snapshot. Failures are logged and
// swallowed; archival never blocks the lifecycle.
func (c *Coordinator) archive(ctx context.Context, trade domain.Trade) {
	if c.arch == nil {
		return
	}
	if err := c.arch.ArchiveTrade(context.WithoutCancel(ctx), trade); err != nil {
		c.logger.Error("archive trade",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
}
