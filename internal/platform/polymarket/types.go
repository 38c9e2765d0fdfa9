// Package polymarket implements the REST client for the Polymarket CLOB
// (Central Limit Order Book) API: EIP-712-signed order placement, HMAC L2
// request authentication, order queries and market resolution lookups.
package polymarket

import (
	"strconv"
	"strings"
)

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
}

// APIOrder represents an order as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "live", "matched", "delayed", "unmatched", "canceled"
	MarketID     string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    string `json:"created_at"`
}

// FilledShares parses the matched size into a float share count.
func (o APIOrder) FilledShares() float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(o.SizeMatched), 64)
	return v
}

// ExecPrice parses the order price.
func (o APIOrder) ExecPrice() float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(o.Price), 64)
	return v
}

// APIToken is one outcome token of a CLOB market.
type APIToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"` // "Yes" or "No"
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// APIMarket represents a market as returned by GET /markets/{condition_id}.
type APIMarket struct {
	ConditionID string     `json:"condition_id"`
	Question    string     `json:"question"`
	Active      bool       `json:"active"`
	Closed      bool       `json:"closed"`
	Tokens      []APIToken `json:"tokens"`
}

// YesWon reports whether the market has resolved and, if so, whether the
// Yes token won. The second return is meaningful only when the first is
// true. A closed market with no winner flag yet counts as unresolved, since
// resolution can lag the close.
func (m APIMarket) YesWon() (resolved, yesWon bool) {
	if !m.Closed {
		return false, false
	}
	for _, t := range m.Tokens {
		if t.Winner {
			return true, strings.EqualFold(t.Outcome, "yes")
		}
	}
	return false, false
}
