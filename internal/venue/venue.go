// Package venue exposes the venue-agnostic order contract the trade
// coordinator works against, plus the adapters that implement it for each
// supported platform. Every external call an adapter makes is wrapped, in
// order, by the venue's circuit breaker, then its adaptive rate limiter,
// then the actual HTTP call.
package venue

import (
	"context"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/resilience"
)

// Adapter translates venue-agnostic order operations into venue-specific
// authenticated calls. Venue detail (signing schemes, native units, status
// vocabulary) never leaks past this boundary.
type Adapter interface {
	// Name identifies the venue this adapter trades on.
	Name() domain.Venue

	// Place submits an order. Allocations that round to zero native size
	// are rejected with domain.ErrZeroSize, never silently clamped.
	Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// Status returns the venue-normalized fill state of a live order.
	Status(ctx context.Context, orderID string) (domain.OrderStatus, error)

	// Cancel cancels an order, reporting whether the venue accepted the
	// cancellation.
	Cancel(ctx context.Context, orderID string) (bool, error)

	// Resolution returns the market's final outcome once known.
	Resolution(ctx context.Context, marketID string) (domain.MarketResolution, error)
}

// guard wraps fn in breaker-then-limiter ordering: the breaker decides
// whether the venue may be called at all before a rate-limit slot is
// consumed waiting for it.
func guard(ctx context.Context, b *resilience.Breaker, l *resilience.Limiter, label string, fn func(context.Context) error) error {
	return b.Execute(ctx, label, func(ctx context.Context) error {
		if err := l.Acquire(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}
