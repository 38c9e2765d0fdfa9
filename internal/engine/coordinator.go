// Package engine implements the trade coordinator: the saga that turns an
// opportunity snapshot into a settled two-leg arbitrage trade. The fund
// safety rule runs through everything here: no venue order exists without
// escrow locked first, and every failure path unwinds in reverse order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/notify"
	"github.com/crwnlabs/crossarb/internal/venue"
)

// Config carries the coordinator's trading limits and polling budgets.
type Config struct {
	Enabled         bool
	MinProfitMargin float64 // minimum edge, e.g. 0.02 for 2%
	MaxDailyTrades  int     // per user, UTC day; 0 means unlimited
	MaxInvestment   float64 // per trade; 0 means unlimited

	FillPollInterval       time.Duration
	FillMaxAttempts        int
	ResolutionPollInterval time.Duration
	ResolutionMaxAttempts  int

	ExecutionLockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = 5 * time.Second
	}
	if c.FillMaxAttempts <= 0 {
		c.FillMaxAttempts = 60
	}
	if c.ResolutionPollInterval <= 0 {
		c.ResolutionPollInterval = 5 * time.Second
	}
	if c.ResolutionMaxAttempts <= 0 {
		c.ResolutionMaxAttempts = 720
	}
	if c.ExecutionLockTTL <= 0 {
		c.ExecutionLockTTL = 2 * time.Minute
	}
	return c
}

// Alerter delivers operator alerts for trades that need a human.
type Alerter interface {
	TradeAlert(ctx context.Context, event notify.Event, trade domain.Trade, detail string) error
}

// Deps are the coordinator's collaborators. Notifier and Archiver may be
// nil; everything else is required.
type Deps struct {
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Escrow        domain.Escrow
	Venues        map[domain.Venue]venue.Adapter
	Locks         domain.LockManager
	Notifier      Alerter
	Archiver      domain.TradeArchiver
	Logger        *slog.Logger
}

// Coordinator executes arbitrage trades and owns their monitors.
type Coordinator struct {
	cfg    Config
	opps   domain.OpportunityStore
	trades domain.TradeStore
	escrow domain.Escrow
	venues map[domain.Venue]venue.Adapter
	locks  domain.LockManager
	notify Alerter
	arch   domain.TradeArchiver
	logger *slog.Logger

	monitors *monitorRegistry
	wg       sync.WaitGroup

	now func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		opps:     deps.Opportunities,
		trades:   deps.Trades,
		escrow:   deps.Escrow,
		venues:   deps.Venues,
		locks:    deps.Locks,
		notify:   deps.Notifier,
		arch:     deps.Archiver,
		logger:   deps.Logger.With(slog.String("component", "coordinator")),
		monitors: newMonitorRegistry(),
		now:      time.Now,
	}
}

// Wait blocks until every running monitor goroutine has finished. Monitors
// are attempt-bounded, so this terminates even without cancellation.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ExecuteArbitrage runs the full execution saga for one opportunity. It
// never returns a bare error: callers always get a structured result whose
// Error field carries the consolidated failure, rollback errors included.
func (c *Coordinator) ExecuteArbitrage(ctx context.Context, userID, opportunityID string, investment float64) domain.TradeResult {
	trade, err := c.execute(ctx, userID, opportunityID, investment)
	if err != nil {
		c.logger.Warn("execution failed",
			slog.String("opportunity_id", opportunityID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return domain.TradeResult{
			Success: false,
			TradeID: trade.ID,
			Status:  trade.Status,
			Error:   err.Error(),
		}
	}
	return domain.TradeResult{
		Success:        true,
		TradeID:        trade.ID,
		Status:         trade.Status,
		ExpectedProfit: trade.ExpectedProfit,
	}
}

// execute is the saga body. The returned trade carries whatever state was
// reached; a zero-ID trade means validation failed before anything was
// persisted.
func (c *Coordinator) execute(ctx context.Context, userID, opportunityID string, investment float64) (domain.Trade, error) {
	var none domain.Trade

	// Validation: fail closed, no side effects.
	if !c.cfg.Enabled {
		return none, domain.ErrTradingDisabled
	}
	if investment <= 0 {
		return none, fmt.Errorf("engine: investment must be positive, got %v", investment)
	}
	if c.cfg.MaxInvestment > 0 && investment > c.cfg.MaxInvestment {
		return none, fmt.Errorf("investment %v exceeds maximum %v: %w",
			investment, c.cfg.MaxInvestment, domain.ErrInvestmentTooLarge)
	}
	if c.cfg.MaxDailyTrades > 0 {
		dayStart := c.now().UTC().Truncate(24 * time.Hour)
		count, err := c.trades.CountForUserSince(ctx, userID, dayStart)
		if err != nil {
			return none, fmt.Errorf("engine: count daily trades: %w", err)
		}
		if count >= c.cfg.MaxDailyTrades {
			return none, fmt.Errorf("user %s has %d trades today: %w",
				userID, count, domain.ErrDailyLimitReached)
		}
	}

	// Serialize execution attempts per opportunity across engine instances.
	release, err := c.locks.Acquire(ctx, "opportunity:"+opportunityID, c.cfg.ExecutionLockTTL)
	if err != nil {
		return none, fmt.Errorf("engine: lock opportunity %s: %w", opportunityID, err)
	}
	defer release()

	opp, err := c.opps.GetByID(ctx, opportunityID)
	if err != nil {
		return none, fmt.Errorf("engine: load opportunity %s: %w", opportunityID, err)
	}
	if opp.Status != domain.OpportunityActive {
		return none, fmt.Errorf("opportunity %s is %s: %w", opp.ID, opp.Status, domain.ErrOpportunityNotActive)
	}
	if opp.Expired(c.now()) {
		return none, fmt.Errorf("opportunity %s: %w", opp.ID, domain.ErrOpportunityExpired)
	}

	prices := [2]float64{opp.Legs[0].Price, opp.Legs[1].Price}
	alloc, err := allocate(investment, prices)
	if err != nil {
		return none, err
	}
	if edge := opp.Edge(); edge < c.cfg.MinProfitMargin {
		return none, fmt.Errorf("edge %.4f below minimum %.4f: %w",
			edge, c.cfg.MinProfitMargin, domain.ErrInsufficientMargin)
	}

	// Persist the pending trade before any funds move.
	trade := domain.Trade{
		ID:               uuid.New().String(),
		UserID:           userID,
		OpportunityID:    opp.ID,
		InvestmentAmount: investment,
		ExpectedProfit:   alloc.ExpectedProfit(investment),
		Status:           domain.TradeStatusPending,
		CreatedAt:        c.now(),
	}
	for i, ref := range opp.Legs {
		trade.Legs[i] = domain.TradeLeg{
			Venue:    ref.Venue,
			MarketID: ref.MarketID,
			Side:     ref.Side,
			Amount:   alloc.Amounts[i],
		}
	}
	if err := c.trades.Create(ctx, trade); err != nil {
		return none, fmt.Errorf("engine: create trade: %w", err)
	}

	// Escrow first. No order is ever placed without the full investment
	// reserved.
	lockRes, err := c.escrow.Lock(ctx, domain.LockRequest{
		UserID:      userID,
		Amount:      investment,
		Purpose:     "arbitrage",
		ReferenceID: trade.ID,
	})
	if err != nil {
		return c.fail(ctx, trade, fmt.Errorf("engine: escrow lock: %w", err))
	}
	if !lockRes.Success {
		return c.fail(ctx, trade, fmt.Errorf("engine: escrow refused lock: %s", lockRes.Error))
	}
	trade.EscrowLockID = lockRes.LockID
	if err := c.trades.SetEscrowLock(ctx, trade.ID, lockRes.LockID); err != nil {
		rollbackErr := c.rollback(ctx, &trade, nil)
		return c.fail(ctx, trade, errors.Join(
			fmt.Errorf("engine: persist escrow lock id: %w", err),
			rollbackErr,
		))
	}

	// Claim the opportunity. Losing this race after holding the
	// distributed lock means another instance ran between our read and
	// now; unwind and walk away.
	if err := c.opps.MarkExecuted(ctx, trade.OpportunityID); err != nil {
		rollbackErr := c.rollback(ctx, &trade, nil)
		return c.fail(ctx, trade, errors.Join(
			fmt.Errorf("engine: claim opportunity: %w", err),
			rollbackErr,
		))
	}

	// Place both legs concurrently; decide all-or-nothing on the join.
	var results [2]domain.OrderResult
	g, gctx := errgroup.WithContext(ctx)
	for i := range trade.Legs {
		leg := trade.Legs[i]
		g.Go(func() error {
			adapter, ok := c.venues[leg.Venue]
			if !ok {
				return fmt.Errorf("no adapter for venue %s", leg.Venue)
			}
			res, err := adapter.Place(gctx, domain.OrderRequest{
				Venue:      leg.Venue,
				MarketID:   leg.MarketID,
				Side:       leg.Side,
				Amount:     leg.Amount,
				LimitPrice: prices[i],
			})
			if err != nil {
				return fmt.Errorf("leg %d (%s %s): %w", i+1, leg.Venue, leg.MarketID, err)
			}
			results[i] = res
			return nil
		})
	}
	if placeErr := g.Wait(); placeErr != nil {
		rollbackErr := c.rollback(ctx, &trade, results[:])
		return c.fail(ctx, trade, errors.Join(
			fmt.Errorf("engine: place legs: %w", placeErr),
			rollbackErr,
		))
	}

	var placed [2]domain.PlacedLeg
	for i, res := range results {
		placed[i] = domain.PlacedLeg{OrderID: res.OrderID, Shares: res.Shares, Price: res.Price}
		trade.Legs[i].OrderID = res.OrderID
		trade.Legs[i].Shares = res.Shares
		trade.Legs[i].Price = res.Price
	}
	if err := c.trades.RecordPlacement(ctx, trade.ID, placed); err != nil {
		rollbackErr := c.rollback(ctx, &trade, results[:])
		return c.fail(ctx, trade, errors.Join(
			fmt.Errorf("engine: record placement: %w", err),
			rollbackErr,
		))
	}
	trade.Status = domain.TradeStatusPartial

	c.logger.Info("both legs placed",
		slog.String("trade_id", trade.ID),
		slog.String("opportunity_id", trade.OpportunityID),
		slog.Float64("investment", investment),
		slog.Float64("expected_profit", trade.ExpectedProfit),
	)

	c.StartFillMonitor(context.WithoutCancel(ctx), trade.ID)
	return trade, nil
}

// rollback runs the compensating actions in reverse order of acquisition:
// cancel any placed venue orders, then release escrow. Every failure is
// collected; a failed compensation leaves funds committed somewhere and is
// exactly what the operator alert exists for.
func (c *Coordinator) rollback(ctx context.Context, trade *domain.Trade, results []domain.OrderResult) error {
	// The placement context may already be cancelled; compensations still
	// have to run.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].OrderID == "" {
			continue
		}
		leg := trade.Legs[i]
		adapter, ok := c.venues[leg.Venue]
		if !ok {
			errs = append(errs, fmt.Errorf("rollback leg %d: no adapter for venue %s", i+1, leg.Venue))
			continue
		}
		if _, err := adapter.Cancel(ctx, results[i].OrderID); err != nil {
			errs = append(errs, fmt.Errorf("rollback leg %d (%s order %s): %w",
				i+1, leg.Venue, results[i].OrderID, err))
		}
	}

	if trade.EscrowLockID != "" {
		if err := c.escrow.Release(ctx, trade.EscrowLockID, "trade rollback"); err != nil {
			errs = append(errs, fmt.Errorf("rollback escrow release %s: %w", trade.EscrowLockID, err))
		}
	}

	joined := errors.Join(errs...)
	if joined != nil {
		c.logger.Error("rollback incomplete",
			slog.String("trade_id", trade.ID),
			slog.String("error", joined.Error()),
		)
		c.alert(ctx, notify.EventRollbackFailed, *trade, joined.Error())
	}
	return joined
}

// fail marks the trade failed with the consolidated error and passes the
// error through.
func (c *Coordinator) fail(ctx context.Context, trade domain.Trade, cause error) (domain.Trade, error) {
	trade.Status = domain.TradeStatusFailed
	trade.Error = cause.Error()
	if err := c.trades.MarkFailed(context.WithoutCancel(ctx), trade.ID, cause.Error()); err != nil {
		c.logger.Error("mark trade failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
	return trade, cause
}

// alert delivers an operator notification when a notifier is configured.
// Alert failures are logged, never propagated.
func (c *Coordinator) alert(ctx context.Context, event notify.Event, trade domain.Trade, detail string) {
	if c.notify == nil {
		return
	}
	if err := c.notify.TradeAlert(context.WithoutCancel(ctx), event, trade, detail); err != nil {
		c.logger.Error("operator alert failed",
			slog.String("event", string(event)),
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
}
