package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/notify"
)

type monitorKind string

const (
	monitorFill       monitorKind = "fill"
	monitorResolution monitorKind = "resolution"
)

// monitorRegistry keeps monitors single-flight per (trade, kind). Starting
// a monitor that is already running is a no-op, which makes re-entrancy
// during recovery and racing callers harmless.
type monitorRegistry struct {
	mu     sync.Mutex
	active map[string]bool
}

func newMonitorRegistry() *monitorRegistry {
	return &monitorRegistry{active: make(map[string]bool)}
}

func (r *monitorRegistry) claim(tradeID string, kind monitorKind) bool {
	key := tradeID + "/" + string(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] {
		return false
	}
	r.active[key] = true
	return true
}

func (r *monitorRegistry) release(tradeID string, kind monitorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, tradeID+"/"+string(kind))
}

// StartFillMonitor begins polling both legs' order status for a partial
// trade. Both legs filled moves the trade to completed and hands it to the
// resolution watch; an exhausted budget moves it to stale and pages an
// operator. Calling this for a trade whose monitor is already running is a
// no-op.
func (c *Coordinator) StartFillMonitor(ctx context.Context, tradeID string) {
	if !c.monitors.claim(tradeID, monitorFill) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.monitors.release(tradeID, monitorFill)
		c.runFillMonitor(ctx, tradeID)
	}()
}

func (c *Coordinator) runFillMonitor(ctx context.Context, tradeID string) {
	logger := c.logger.With(slog.String("monitor", "fill"), slog.String("trade_id", tradeID))

	for attempt := 1; attempt <= c.cfg.FillMaxAttempts; attempt++ {
		if !sleepCtx(ctx, c.cfg.FillPollInterval) {
			return
		}

		trade, err := c.trades.GetByID(ctx, tradeID)
		if err != nil {
			logger.Error("load trade", slog.String("error", err.Error()))
			continue
		}
		if trade.Status != domain.TradeStatusPartial {
			// Another actor moved the trade on. Nothing left to watch.
			return
		}

		for i := range trade.Legs {
			leg := &trade.Legs[i]
			if leg.Filled {
				continue
			}
			adapter, ok := c.venues[leg.Venue]
			if !ok {
				logger.Error("no adapter", slog.String("venue", string(leg.Venue)))
				continue
			}
			status, err := adapter.Status(ctx, leg.OrderID)
			if err != nil {
				logger.Warn("order status check failed",
					slog.String("venue", string(leg.Venue)),
					slog.String("order_id", leg.OrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			switch status.State {
			case domain.FillFilled:
				if err := c.trades.MarkLegFilled(ctx, tradeID, i, status.FilledShares, status.Price); err != nil {
					logger.Error("mark leg filled", slog.String("error", err.Error()))
					continue
				}
				leg.Filled = true
				leg.Shares = status.FilledShares
				leg.Price = status.Price
				logger.Info("leg filled",
					slog.Int("leg", i+1),
					slog.String("venue", string(leg.Venue)),
					slog.Float64("shares", status.FilledShares),
				)
			case domain.FillCancelled, domain.FillFailed:
				// The order died on the venue; the budget will run out and
				// the stale path pages a human with the leg detail intact.
				logger.Warn("leg order dead on venue",
					slog.Int("leg", i+1),
					slog.String("state", string(status.State)),
				)
			}
		}

		if trade.BothFilled() {
			if err := c.trades.UpdateStatus(ctx, tradeID, domain.TradeStatusPartial, domain.TradeStatusCompleted); err != nil {
				logger.Error("transition to completed", slog.String("error", err.Error()))
				return
			}
			logger.Info("both legs filled", slog.Int("attempts", attempt))
			c.StartResolutionWatch(ctx, tradeID)
			return
		}
	}

	// Budget exhausted with capital possibly live on a venue. Terminal;
	// a human decides what happens next.
	c.markStale(ctx, tradeID, logger)
}

func (c *Coordinator) markStale(ctx context.Context, tradeID string, logger *slog.Logger) {
	trade, err := c.trades.GetByID(ctx, tradeID)
	if err != nil {
		logger.Error("load trade for stale transition", slog.String("error", err.Error()))
		return
	}
	if err := c.trades.UpdateStatus(ctx, tradeID, trade.Status, domain.TradeStatusStale); err != nil {
		logger.Error("transition to stale", slog.String("error", err.Error()))
		return
	}
	trade.Status = domain.TradeStatusStale
	logger.Warn("trade stale, operator attention required")
	c.alert(ctx, notify.EventTradeStale, trade,
		fmt.Sprintf("fill monitoring exhausted after %d attempts", c.cfg.FillMaxAttempts))
	c.archive(ctx, trade)
}

// StartResolutionWatch begins polling both legs' markets for resolution on
// a completed trade. Both resolved triggers settlement; an exhausted budget
// leaves the trade completed for out-of-band settlement, which is not an
// error. No-op when already running.
func (c *Coordinator) StartResolutionWatch(ctx context.Context, tradeID string) {
	if !c.monitors.claim(tradeID, monitorResolution) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.monitors.release(tradeID, monitorResolution)
		c.runResolutionWatch(ctx, tradeID)
	}()
}

func (c *Coordinator) runResolutionWatch(ctx context.Context, tradeID string) {
	logger := c.logger.With(slog.String("monitor", "resolution"), slog.String("trade_id", tradeID))

	for attempt := 1; attempt <= c.cfg.ResolutionMaxAttempts; attempt++ {
		if !sleepCtx(ctx, c.cfg.ResolutionPollInterval) {
			return
		}

		trade, err := c.trades.GetByID(ctx, tradeID)
		if err != nil {
			logger.Error("load trade", slog.String("error", err.Error()))
			continue
		}
		if trade.Status != domain.TradeStatusCompleted {
			return
		}

		var outcomes [2]domain.MarketResolution
		allResolved := true
		for i, leg := range trade.Legs {
			adapter, ok := c.venues[leg.Venue]
			if !ok {
				logger.Error("no adapter", slog.String("venue", string(leg.Venue)))
				allResolved = false
				break
			}
			res, err := adapter.Resolution(ctx, leg.MarketID)
			if err != nil {
				logger.Warn("resolution check failed",
					slog.String("venue", string(leg.Venue)),
					slog.String("market_id", leg.MarketID),
					slog.String("error", err.Error()),
				)
				allResolved = false
				break
			}
			if !res.Resolved {
				allResolved = false
				break
			}
			outcomes[i] = res
		}

		if allResolved {
			// A failed settlement step leaves the trade completed;
			// retry it on the remaining budget like any other poll error.
			if err := c.settle(ctx, tradeID, outcomes); err != nil {
				logger.Error("settlement", slog.String("error", err.Error()))
				continue
			}
			return
		}
	}

	// Markets can take longer than any polling budget. The trade stays
	// completed; settlement happens out of band or on the next recovery.
	trade, err := c.trades.GetByID(ctx, tradeID)
	if err != nil {
		logger.Error("load trade after watch budget", slog.String("error", err.Error()))
		return
	}
	logger.Info("resolution watch budget exhausted, trade remains completed")
	c.alert(ctx, notify.EventSettlementDeferred, trade,
		fmt.Sprintf("markets unresolved after %d checks", c.cfg.ResolutionMaxAttempts))
}

// sleepCtx waits for d, returning false when the context is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
