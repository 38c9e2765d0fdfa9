package kalshi

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API, trimmed to
// the fields the engine reads.
type Market struct {
	Ticker         string  `json:"ticker"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	NoBid          float64 `json:"no_bid"`
	NoAsk          float64 `json:"no_ask"`
	Result         string  `json:"result"` // "yes", "no", "" (unsettled)
	ExpirationTime string  `json:"expiration_time"`
}

// Order represents an order to be placed on the Kalshi exchange.
type Order struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`                 // "buy" or "sell"
	Side          string `json:"side"`                   // "yes" or "no"
	Type          string `json:"type"`                   // "market" or "limit"
	Count         int64  `json:"count"`                  // number of contracts
	YesPrice      *int64 `json:"yes_price,omitempty"`    // limit price in cents (1-99)
	NoPrice       *int64 `json:"no_price,omitempty"`     // limit price in cents (1-99)
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"` // max cost in cents
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// OrderState is an order as returned by the portfolio endpoints.
type OrderState struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Status      string `json:"status"` // "resting", "executed", "canceled", "pending"
	Side        string `json:"side"`
	Count       int64  `json:"count"` // original contract count
	FillCount   int64  `json:"fill_count"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
	CreatedTime string `json:"created_time"`
}

// OrderResponse wraps the order object returned by POST /portfolio/orders.
type OrderResponse struct {
	Order OrderState `json:"order"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
