package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crwnlabs/crossarb/internal/crypto"
	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/platform/polymarket"
	"github.com/crwnlabs/crossarb/internal/resilience"
)

// microUnits is the CLOB's fixed-point scale for maker/taker amounts.
const microUnits = 1e6

// zeroAddress is the public taker for open orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// PolymarketAdapter implements Adapter for the Polymarket CLOB. Market ids
// are CLOB condition ids; the adapter resolves the YES/NO outcome token for
// a side itself and caches the mapping.
type PolymarketAdapter struct {
	client  *polymarket.ClobClient
	signer  *crypto.Signer
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	tokens map[string]map[domain.Side]string // conditionID -> side -> tokenID
}

// NewPolymarketAdapter creates the adapter. The client should already carry
// the limiter as its rate observer so response headers feed back into it.
func NewPolymarketAdapter(
	client *polymarket.ClobClient,
	signer *crypto.Signer,
	breaker *resilience.Breaker,
	limiter *resilience.Limiter,
	logger *slog.Logger,
) *PolymarketAdapter {
	return &PolymarketAdapter{
		client:  client,
		signer:  signer,
		breaker: breaker,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", string(domain.VenuePolymarket))),
		tokens:  make(map[string]map[domain.Side]string),
	}
}

// Name implements Adapter.
func (a *PolymarketAdapter) Name() domain.Venue { return domain.VenuePolymarket }

// Place implements Adapter. The request's Amount is capital in account
// currency; the CLOB wants integer micro-unit maker/taker amounts, so the
// adapter derives shares from the limit price and rejects any allocation
// that truncates to zero native size.
func (a *PolymarketAdapter) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.LimitPrice <= 0 || req.LimitPrice >= 1 {
		return domain.OrderResult{}, fmt.Errorf("venue/polymarket: limit price %v outside (0,1): %w", req.LimitPrice, domain.ErrZeroSize)
	}

	shares := req.Amount / req.LimitPrice
	makerAmount := int64(math.Floor(req.Amount * microUnits)) // micro-USDC spent
	takerAmount := int64(math.Floor(shares * microUnits))     // micro-shares received
	if makerAmount <= 0 || takerAmount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("venue/polymarket: amount %v at price %v: %w", req.Amount, req.LimitPrice, domain.ErrZeroSize)
	}

	tokenID, err := a.tokenFor(ctx, req.MarketID, req.Side)
	if err != nil {
		return domain.OrderResult{}, err
	}

	wallet := a.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   fmt.Sprintf("%d", makerAmount),
		TakerAmount:   fmt.Sprintf("%d", takerAmount),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // buying the outcome token on both YES and NO legs
		SignatureType: 0,
	}

	var apiResult polymarket.APIOrderResult
	err = guard(ctx, a.breaker, a.limiter, "polymarket.place", func(ctx context.Context) error {
		var err error
		apiResult, err = a.client.PostOrder(ctx, payload, "GTC")
		return err
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	if !apiResult.Success {
		return domain.OrderResult{
			Success: false,
			Message: apiResult.ErrorMsg,
		}, fmt.Errorf("venue/polymarket: order rejected: %s", apiResult.ErrorMsg)
	}

	a.logger.Info("order placed",
		slog.String("order_id", apiResult.OrderID),
		slog.String("market", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.Float64("shares", shares),
	)

	return domain.OrderResult{
		Success: true,
		OrderID: apiResult.OrderID,
		Shares:  shares,
		Price:   req.LimitPrice,
	}, nil
}

// Status implements Adapter.
func (a *PolymarketAdapter) Status(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var order polymarket.APIOrder
	err := guard(ctx, a.breaker, a.limiter, "polymarket.status", func(ctx context.Context) error {
		var err error
		order, err = a.client.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.OrderStatus{}, err
	}

	return domain.OrderStatus{
		OrderID:      orderID,
		State:        normalizeClobStatus(order),
		FilledShares: order.FilledShares(),
		Price:        order.ExecPrice(),
	}, nil
}

// Cancel implements Adapter.
func (a *PolymarketAdapter) Cancel(ctx context.Context, orderID string) (bool, error) {
	err := guard(ctx, a.breaker, a.limiter, "polymarket.cancel", func(ctx context.Context) error {
		return a.client.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resolution implements Adapter.
func (a *PolymarketAdapter) Resolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	var market polymarket.APIMarket
	err := guard(ctx, a.breaker, a.limiter, "polymarket.resolution", func(ctx context.Context) error {
		var err error
		market, err = a.client.GetMarket(ctx, marketID)
		return err
	})
	if err != nil {
		return domain.MarketResolution{}, err
	}

	resolved, yesWon := market.YesWon()
	return domain.MarketResolution{Resolved: resolved, Outcome: yesWon}, nil
}

// tokenFor maps (conditionID, side) to the outcome token id, fetching and
// caching the market's token list on first use.
func (a *PolymarketAdapter) tokenFor(ctx context.Context, conditionID string, side domain.Side) (string, error) {
	a.mu.Lock()
	if m, ok := a.tokens[conditionID]; ok {
		if id := m[side]; id != "" {
			a.mu.Unlock()
			return id, nil
		}
	}
	a.mu.Unlock()

	var market polymarket.APIMarket
	err := guard(ctx, a.breaker, a.limiter, "polymarket.market", func(ctx context.Context) error {
		var err error
		market, err = a.client.GetMarket(ctx, conditionID)
		return err
	})
	if err != nil {
		return "", err
	}

	m := make(map[domain.Side]string, 2)
	for _, t := range market.Tokens {
		switch {
		case strings.EqualFold(t.Outcome, "yes"):
			m[domain.SideYes] = t.TokenID
		case strings.EqualFold(t.Outcome, "no"):
			m[domain.SideNo] = t.TokenID
		}
	}

	a.mu.Lock()
	a.tokens[conditionID] = m
	a.mu.Unlock()

	id := m[side]
	if id == "" {
		return "", fmt.Errorf("venue/polymarket: market %s has no %s token: %w", conditionID, side, domain.ErrNotFound)
	}
	return id, nil
}

// normalizeClobStatus maps the CLOB order vocabulary onto the engine's
// fill states. Partial fills are detected from sizes rather than status,
// because the CLOB reports a matched order as "live" until fully crossed.
func normalizeClobStatus(o polymarket.APIOrder) domain.FillState {
	filled := o.FilledShares()

	switch strings.ToLower(o.Status) {
	case "matched":
		return domain.FillFilled
	case "canceled", "cancelled":
		return domain.FillCancelled
	case "unmatched":
		if filled > 0 {
			return domain.FillPartiallyFilled
		}
		return domain.FillFailed
	}

	orig, _ := strconv.ParseFloat(strings.TrimSpace(o.OriginalSize), 64)
	if orig > 0 && filled >= orig {
		return domain.FillFilled
	}
	if filled > 0 {
		return domain.FillPartiallyFilled
	}
	return domain.FillPending
}

// Compile-time interface check.
var _ Adapter = (*PolymarketAdapter)(nil)
