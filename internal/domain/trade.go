package domain

import "time"

// TradeStatus tracks the coordinated two-leg trade lifecycle.
type TradeStatus string

const (
	// TradeStatusPending means the trade row exists but no venue order has
	// been placed. Escrow may or may not be locked yet.
	TradeStatusPending TradeStatus = "pending"
	// TradeStatusPartial means both legs have been accepted by their venues
	// and the engine is waiting for fills.
	TradeStatusPartial TradeStatus = "partial"
	// TradeStatusCompleted means both legs are filled and the engine is
	// waiting for both markets to resolve.
	TradeStatusCompleted TradeStatus = "completed"
	// TradeStatusSettled means outcomes are known, PnL is computed, escrow
	// is released and any profit credited. Terminal.
	TradeStatusSettled TradeStatus = "settled"
	// TradeStatusFailed means the trade aborted before capital was at risk
	// on both venues; escrow has been released. Terminal.
	TradeStatusFailed TradeStatus = "failed"
	// TradeStatusStale means the fill monitor exhausted its budget with
	// capital possibly live on one or both venues. Terminal; requires a
	// human. The engine never auto-retries out of this state.
	TradeStatusStale TradeStatus = "stale"
)

// transitions is the strict state machine for trades. A transition absent
// from this map is a bug, not a retry candidate.
var transitions = map[TradeStatus][]TradeStatus{
	TradeStatusPending:   {TradeStatusPartial, TradeStatusFailed},
	TradeStatusPartial:   {TradeStatusCompleted, TradeStatusFailed, TradeStatusStale},
	TradeStatusCompleted: {TradeStatusSettled, TradeStatusStale},
}

// CanTransition reports whether moving a trade from one status to another is
// legal under the state machine.
func CanTransition(from, to TradeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// TradeLeg is one side of a two-venue arbitrage trade.
type TradeLeg struct {
	Venue    Venue
	MarketID string
	Side     Side
	Amount   float64 // capital allocated to this leg
	Shares   float64 // contracts bought, set at placement
	Price    float64 // execution price, set at placement
	OrderID  string  // venue order id, set at placement
	Filled   bool
}

// Trade is the unit of work for one arbitrage execution. It is created by
// the coordinator, mutated only through conditional store updates, and never
// deleted: failed and stale trades stay behind for manual review.
type Trade struct {
	ID               string
	UserID           string
	OpportunityID    string
	Legs             [2]TradeLeg
	InvestmentAmount float64
	ExpectedProfit   float64
	ActualProfit     *float64
	EscrowLockID     string
	Status           TradeStatus
	Error            string
	CreatedAt        time.Time
	ExecutedAt       *time.Time
	SettledAt        *time.Time
}

// BothFilled reports whether both legs have confirmed fills.
func (t Trade) BothFilled() bool {
	return t.Legs[0].Filled && t.Legs[1].Filled
}

// TradeResult is the structured result returned across the trade-execution
// boundary. Callers never see a bare error from ExecuteArbitrage; failures
// carry a human-readable Error alongside the typed cause.
type TradeResult struct {
	Success        bool
	TradeID        string
	Status         TradeStatus
	ExpectedProfit float64
	Error          string
}
