package engine

import (
	"fmt"

	"github.com/crwnlabs/crossarb/internal/domain"
)

// Allocation is the capital split for a two-leg trade. Both legs buy the
// same number of contracts; exactly one side pays out 1 per contract at
// resolution, so the guaranteed payout equals Shares.
type Allocation struct {
	Shares  float64
	Amounts [2]float64
}

// ExpectedProfit is the guaranteed payout minus the capital committed.
func (a Allocation) ExpectedProfit(investment float64) float64 {
	return a.Shares - investment
}

// allocate splits investment across two legs in proportion to their prices:
// shares = investment / (pA + pB), leg amount = shares * p. The split spends
// the full investment and equalizes contract counts, which is what makes the
// payout outcome-independent.
func allocate(investment float64, prices [2]float64) (Allocation, error) {
	if investment <= 0 {
		return Allocation{}, fmt.Errorf("engine: investment must be positive, got %v", investment)
	}
	for i, p := range prices {
		if p <= 0 || p >= 1 {
			return Allocation{}, fmt.Errorf("engine: leg %d price %v outside (0,1)", i, p)
		}
	}

	sum := prices[0] + prices[1]
	if sum >= 1 {
		return Allocation{}, fmt.Errorf("engine: prices sum to %v: %w", sum, domain.ErrPricesConverged)
	}

	shares := investment / sum
	return Allocation{
		Shares:  shares,
		Amounts: [2]float64{shares * prices[0], shares * prices[1]},
	}, nil
}
