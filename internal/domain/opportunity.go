package domain

import "time"

// OpportunityStatus is the lifecycle state of a detected mispricing.
type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "active"
	OpportunityExpired  OpportunityStatus = "expired"
	OpportunityExecuted OpportunityStatus = "executed"
)

// MarketRef identifies one side of a cross-venue opportunity: a market on a
// specific venue together with the side and price at detection time.
type MarketRef struct {
	Venue    Venue
	MarketID string
	Side     Side
	Price    float64
}

// Opportunity is an immutable snapshot of a detected price discrepancy
// between two venues. It is produced by an out-of-scope scanner; the engine
// only reads it and flips its status to executed, at most once.
type Opportunity struct {
	ID              string
	Legs            [2]MarketRef
	Spread          float64
	PotentialProfit float64
	Status          OpportunityStatus
	DetectedAt      time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the opportunity window has closed at the given time.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// Edge returns the arbitrage edge implied by the snapshot prices: how far the
// two leg prices sum below 1.0. A non-positive edge means the prices have
// converged and a filled pair no longer nets a guaranteed payout.
func (o Opportunity) Edge() float64 {
	return 1.0 - (o.Legs[0].Price + o.Legs[1].Price)
}
