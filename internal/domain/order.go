package domain

// Venue identifies an external prediction-market trading platform.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Side is the binary outcome a leg takes a position on.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// FillState is the venue-normalized fill state of an order. Each adapter
// maps its venue's vocabulary onto these five values.
type FillState string

const (
	FillPending         FillState = "pending"
	FillPartiallyFilled FillState = "partially_filled"
	FillFilled          FillState = "filled"
	FillCancelled       FillState = "cancelled"
	FillFailed          FillState = "failed"
)

// OrderRequest is a venue-agnostic order. Adapters translate price and size
// into the venue's native units (cents, micro-units) and must reject, not
// clamp, allocations that round to zero native size.
type OrderRequest struct {
	Venue      Venue
	MarketID   string
	Side       Side
	Amount     float64 // capital to commit, in account currency
	LimitPrice float64 // probability price in (0,1); 0 means marketable
}

// OrderResult is the response to a placement attempt.
type OrderResult struct {
	Success bool
	OrderID string
	Shares  float64 // contracts acquired (or resting) at Price
	Price   float64 // execution or limit price in (0,1)
	Message string
}

// OrderStatus is a venue-normalized view of a live order.
type OrderStatus struct {
	OrderID      string
	State        FillState
	FilledShares float64
	Price        float64
}

// MarketResolution is a venue-normalized view of a market's final outcome.
type MarketResolution struct {
	Resolved bool
	Outcome  bool // true = YES won; meaningful only when Resolved
}
