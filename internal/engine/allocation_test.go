package engine

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/crwnlabs/crossarb/internal/domain"
)

func TestAllocate(t *testing.T) {
	alloc, err := allocate(1000, [2]float64{0.45, 0.50})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if math.Abs(alloc.Amounts[0]-473.684210) > 1e-6 {
		t.Errorf("leg 1 amount = %v, want 473.684210", alloc.Amounts[0])
	}
	if math.Abs(alloc.Amounts[1]-526.315789) > 1e-6 {
		t.Errorf("leg 2 amount = %v, want 526.315789", alloc.Amounts[1])
	}
	if math.Abs(alloc.Shares-1052.631578) > 1e-5 {
		t.Errorf("shares = %v, want 1052.631578", alloc.Shares)
	}
	if profit := alloc.ExpectedProfit(1000); profit <= 0 {
		t.Errorf("expected profit = %v, want positive", profit)
	}
}

func TestAllocateRejects(t *testing.T) {
	tests := []struct {
		name       string
		investment float64
		prices     [2]float64
	}{
		{"zero investment", 0, [2]float64{0.4, 0.4}},
		{"negative investment", -5, [2]float64{0.4, 0.4}},
		{"zero price", 100, [2]float64{0, 0.4}},
		{"price at one", 100, [2]float64{1.0, 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := allocate(tt.investment, tt.prices); err == nil {
				t.Error("want error, got nil")
			}
		})
	}

	_, err := allocate(100, [2]float64{0.55, 0.50})
	if !errors.Is(err, domain.ErrPricesConverged) {
		t.Errorf("converged prices: got %v, want ErrPricesConverged", err)
	}
}

func TestAllocateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		investment := rapid.Float64Range(0.01, 1e6).Draw(t, "investment")
		pA := rapid.Float64Range(0.01, 0.97).Draw(t, "pA")
		pB := rapid.Float64Range(0.01, 0.98-pA).Draw(t, "pB")

		alloc, err := allocate(investment, [2]float64{pA, pB})
		if err != nil {
			t.Fatalf("allocate(%v, %v, %v): %v", investment, pA, pB, err)
		}

		// The split spends the whole investment.
		total := alloc.Amounts[0] + alloc.Amounts[1]
		if math.Abs(total-investment) > 1e-6*investment {
			t.Fatalf("amounts sum to %v, investment %v", total, investment)
		}

		// Both legs buy the same contract count.
		for i, p := range [2]float64{pA, pB} {
			if math.Abs(alloc.Amounts[i]/p-alloc.Shares) > 1e-6*alloc.Shares {
				t.Fatalf("leg %d shares %v != %v", i, alloc.Amounts[i]/p, alloc.Shares)
			}
		}

		// Prices summing below one guarantee positive profit.
		if alloc.ExpectedProfit(investment) <= 0 {
			t.Fatalf("expected profit %v not positive", alloc.ExpectedProfit(investment))
		}
	})
}
