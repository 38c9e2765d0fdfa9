package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrInvalidTransition    = errors.New("invalid trade status transition")
	ErrTradingDisabled      = errors.New("trading is disabled")
	ErrOpportunityNotActive = errors.New("opportunity is not active")
	ErrOpportunityExpired   = errors.New("opportunity has expired")
	ErrInsufficientMargin   = errors.New("profit margin below configured minimum")
	ErrPricesConverged      = errors.New("leg prices have converged, no arbitrage edge")
	ErrDailyLimitReached    = errors.New("daily trade limit reached")
	ErrInvestmentTooLarge   = errors.New("investment exceeds per-trade maximum")
	ErrZeroSize             = errors.New("allocation rounds to zero native size")
)
