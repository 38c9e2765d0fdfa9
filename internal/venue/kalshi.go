package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/platform/kalshi"
	"github.com/crwnlabs/crossarb/internal/resilience"
)

// KalshiAdapter implements Adapter for the Kalshi exchange. Market ids are
// Kalshi tickers; prices are translated to integer cents and sizes to whole
// contracts.
type KalshiAdapter struct {
	client  *kalshi.Client
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	logger  *slog.Logger
}

// NewKalshiAdapter creates the adapter. The client should already carry the
// limiter as its rate observer.
func NewKalshiAdapter(
	client *kalshi.Client,
	breaker *resilience.Breaker,
	limiter *resilience.Limiter,
	logger *slog.Logger,
) *KalshiAdapter {
	return &KalshiAdapter{
		client:  client,
		breaker: breaker,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", string(domain.VenueKalshi))),
	}
}

// Name implements Adapter.
func (a *KalshiAdapter) Name() domain.Venue { return domain.VenueKalshi }

// Place implements Adapter. Kalshi trades whole contracts priced in cents
// (1-99); an allocation that floors to zero contracts, or a price outside
// the valid cent range, is rejected rather than clamped.
func (a *KalshiAdapter) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	priceCents := int64(math.Round(req.LimitPrice * 100))
	if priceCents < 1 || priceCents > 99 {
		return domain.OrderResult{}, fmt.Errorf("venue/kalshi: price %v maps to %d cents: %w", req.LimitPrice, priceCents, domain.ErrZeroSize)
	}

	count := int64(math.Floor(req.Amount / req.LimitPrice))
	if count <= 0 {
		return domain.OrderResult{}, fmt.Errorf("venue/kalshi: amount %v at price %v buys zero contracts: %w", req.Amount, req.LimitPrice, domain.ErrZeroSize)
	}

	order := kalshi.Order{
		Ticker: req.MarketID,
		Action: "buy",
		Side:   string(req.Side),
		Type:   "limit",
		Count:  count,
	}
	switch req.Side {
	case domain.SideYes:
		order.YesPrice = &priceCents
	case domain.SideNo:
		order.NoPrice = &priceCents
	default:
		return domain.OrderResult{}, fmt.Errorf("venue/kalshi: unknown side %q", req.Side)
	}

	var placed kalshi.OrderState
	err := guard(ctx, a.breaker, a.limiter, "kalshi.place", func(ctx context.Context) error {
		var err error
		placed, err = a.client.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return domain.OrderResult{Message: err.Error()}, err
	}

	a.logger.Info("order placed",
		slog.String("order_id", placed.OrderID),
		slog.String("ticker", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.Int64("count", count),
	)

	return domain.OrderResult{
		Success: true,
		OrderID: placed.OrderID,
		Shares:  float64(count),
		Price:   float64(priceCents) / 100,
	}, nil
}

// Status implements Adapter.
func (a *KalshiAdapter) Status(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var state kalshi.OrderState
	err := guard(ctx, a.breaker, a.limiter, "kalshi.status", func(ctx context.Context) error {
		var err error
		state, err = a.client.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.OrderStatus{}, err
	}

	price := state.YesPrice
	if strings.EqualFold(state.Side, "no") {
		price = state.NoPrice
	}

	return domain.OrderStatus{
		OrderID:      orderID,
		State:        normalizeKalshiStatus(state),
		FilledShares: float64(state.FillCount),
		Price:        float64(price) / 100,
	}, nil
}

// Cancel implements Adapter.
func (a *KalshiAdapter) Cancel(ctx context.Context, orderID string) (bool, error) {
	err := guard(ctx, a.breaker, a.limiter, "kalshi.cancel", func(ctx context.Context) error {
		return a.client.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resolution implements Adapter. Kalshi reports the outcome through the
// market's result field once settled.
func (a *KalshiAdapter) Resolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	var market kalshi.Market
	err := guard(ctx, a.breaker, a.limiter, "kalshi.resolution", func(ctx context.Context) error {
		var err error
		market, err = a.client.GetMarket(ctx, marketID)
		return err
	})
	if err != nil {
		return domain.MarketResolution{}, err
	}

	switch strings.ToLower(market.Result) {
	case "yes":
		return domain.MarketResolution{Resolved: true, Outcome: true}, nil
	case "no":
		return domain.MarketResolution{Resolved: true, Outcome: false}, nil
	default:
		return domain.MarketResolution{}, nil
	}
}

// normalizeKalshiStatus maps Kalshi's order vocabulary onto the engine's
// fill states.
func normalizeKalshiStatus(o kalshi.OrderState) domain.FillState {
	switch strings.ToLower(o.Status) {
	case "executed":
		return domain.FillFilled
	case "canceled", "cancelled":
		return domain.FillCancelled
	case "resting", "pending":
		if o.FillCount >= o.Count && o.Count > 0 {
			return domain.FillFilled
		}
		if o.FillCount > 0 {
			return domain.FillPartiallyFilled
		}
		return domain.FillPending
	default:
		return domain.FillFailed
	}
}

// Compile-time interface check.
var _ Adapter = (*KalshiAdapter)(nil)
