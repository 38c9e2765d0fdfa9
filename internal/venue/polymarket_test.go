package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crwnlabs/crossarb/internal/crypto"
	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/platform/polymarket"
	"github.com/crwnlabs/crossarb/internal/resilience"
)

// Throwaway test key; never funded.
const testPrivKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func newPolymarketAdapter(t *testing.T, baseURL string) *PolymarketAdapter {
	t.Helper()
	signer, err := crypto.NewSigner(testPrivKey, 137)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	client := polymarket.NewClobClient(baseURL, signer, &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
	breaker := resilience.NewBreaker("polymarket", resilience.BreakerConfig{}, testLogger())
	limiter := resilience.NewLimiter("polymarket", resilience.LimiterConfig{DefaultLimit: 100}, testLogger())
	client.WithRateObserver(limiter)
	return NewPolymarketAdapter(client, signer, breaker, limiter, testLogger())
}

func marketJSON() polymarket.APIMarket {
	return polymarket.APIMarket{
		ConditionID: "0xcond",
		Active:      true,
		Tokens: []polymarket.APIToken{
			{TokenID: "111", Outcome: "Yes"},
			{TokenID: "222", Outcome: "No"},
		},
	}
}

func TestPolymarketAdapter_PlaceSignsAndTranslatesUnits(t *testing.T) {
	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/markets/0xcond":
			_ = json.NewEncoder(w).Encode(marketJSON())
		case r.Method == http.MethodPost && r.URL.Path == "/order":
			if r.Header.Get("POLY_SIGNATURE") == "" {
				t.Error("missing HMAC auth headers")
			}
			_ = json.NewDecoder(r.Body).Decode(&posted)
			_ = json.NewEncoder(w).Encode(polymarket.APIOrderResult{Success: true, OrderID: "0xabc", Status: "live"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	a := newPolymarketAdapter(t, srv.URL)
	res, err := a.Place(context.Background(), domain.OrderRequest{
		Venue:      domain.VenuePolymarket,
		MarketID:   "0xcond",
		Side:       domain.SideYes,
		Amount:     100,
		LimitPrice: 0.50,
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if res.OrderID != "0xabc" || res.Shares != 200 {
		t.Errorf("result = %+v, want 200 shares", res)
	}

	order, ok := posted["order"].(map[string]any)
	if !ok {
		t.Fatalf("posted body missing order object: %v", posted)
	}
	if order["tokenID"] != "111" {
		t.Errorf("tokenID = %v, want YES token 111", order["tokenID"])
	}
	if order["makerAmount"] != "100000000" {
		t.Errorf("makerAmount = %v, want 100000000 micro-units", order["makerAmount"])
	}
	if order["takerAmount"] != "200000000" {
		t.Errorf("takerAmount = %v, want 200000000 micro-units", order["takerAmount"])
	}
	if sig, _ := order["signature"].(string); len(sig) != 132 { // 0x + 65 bytes hex
		t.Errorf("signature %q is not a 65-byte hex signature", sig)
	}
}

func TestPolymarketAdapter_PlaceRejectsZeroSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected for a zero-size allocation")
	}))
	defer srv.Close()

	a := newPolymarketAdapter(t, srv.URL)
	_, err := a.Place(context.Background(), domain.OrderRequest{
		MarketID: "0xcond", Side: domain.SideYes, Amount: 0.0000001, LimitPrice: 0.5,
	})
	if !errors.Is(err, domain.ErrZeroSize) {
		t.Errorf("got %v, want ErrZeroSize", err)
	}

	_, err = a.Place(context.Background(), domain.OrderRequest{
		MarketID: "0xcond", Side: domain.SideYes, Amount: 100, LimitPrice: 0,
	})
	if !errors.Is(err, domain.ErrZeroSize) {
		t.Errorf("price 0: got %v, want ErrZeroSize", err)
	}
}

func TestNormalizeClobStatus(t *testing.T) {
	tests := []struct {
		order polymarket.APIOrder
		want  domain.FillState
	}{
		{polymarket.APIOrder{Status: "matched", SizeMatched: "10", OriginalSize: "10"}, domain.FillFilled},
		{polymarket.APIOrder{Status: "live", SizeMatched: "0", OriginalSize: "10"}, domain.FillPending},
		{polymarket.APIOrder{Status: "live", SizeMatched: "4", OriginalSize: "10"}, domain.FillPartiallyFilled},
		{polymarket.APIOrder{Status: "live", SizeMatched: "10", OriginalSize: "10"}, domain.FillFilled},
		{polymarket.APIOrder{Status: "canceled"}, domain.FillCancelled},
		{polymarket.APIOrder{Status: "unmatched", SizeMatched: "0"}, domain.FillFailed},
		{polymarket.APIOrder{Status: "unmatched", SizeMatched: "3"}, domain.FillPartiallyFilled},
	}
	for _, tt := range tests {
		if got := normalizeClobStatus(tt.order); got != tt.want {
			t.Errorf("normalizeClobStatus(%s/%s) = %s, want %s",
				tt.order.Status, tt.order.SizeMatched, got, tt.want)
		}
	}
}

func TestPolymarketAdapter_ResolutionRequiresWinner(t *testing.T) {
	market := marketJSON()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(market)
	}))
	defer srv.Close()

	a := newPolymarketAdapter(t, srv.URL)
	ctx := context.Background()

	res, err := a.Resolution(ctx, "0xcond")
	if err != nil {
		t.Fatalf("Resolution: %v", err)
	}
	if res.Resolved {
		t.Error("open market reported as resolved")
	}

	// Closed but the winner flag has not propagated yet.
	market.Closed = true
	res, _ = a.Resolution(ctx, "0xcond")
	if res.Resolved {
		t.Error("closed market without winner reported as resolved")
	}

	market.Tokens[1].Winner = true // NO won
	res, _ = a.Resolution(ctx, "0xcond")
	if !res.Resolved || res.Outcome {
		t.Errorf("got %+v, want resolved with NO outcome", res)
	}
}
