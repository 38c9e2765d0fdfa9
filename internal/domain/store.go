package domain

import (
	"context"
	"time"
)

// OpportunityStore persists opportunity snapshots. The scanner that creates
// them is out of scope; the engine reads, executes and expires them.
type OpportunityStore interface {
	Create(ctx context.Context, opp Opportunity) error
	GetByID(ctx context.Context, id string) (Opportunity, error)

	// MarkExecuted flips an active opportunity to executed. It returns
	// ErrOpportunityNotActive when the opportunity is no longer active, so
	// the transition happens at most once even under concurrent callers.
	MarkExecuted(ctx context.Context, id string) error

	// ExpireBefore marks every active opportunity whose expiry is before
	// the cutoff as expired and returns how many rows changed.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListActive(ctx context.Context, limit int) ([]Opportunity, error)
}

// PlacedLeg carries the per-leg placement facts persisted after a
// successful dual-leg placement.
type PlacedLeg struct {
	OrderID string
	Shares  float64
	Price   float64
}

// TradeStore persists trades with atomic, conditional single-record
// updates so concurrent monitor ticks cannot interleave into a corrupt
// record. Trades are never deleted.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)

	// SetEscrowLock records the ledger's lock id on a pending trade. The
	// trade row exists before the ledger is asked for the lock, so the id
	// arrives in a second write.
	SetEscrowLock(ctx context.Context, id, lockID string) error

	// RecordPlacement stores both legs' order ids, shares and prices and
	// moves the trade from pending to partial in one update. Both legs get
	// an order id or neither does; there is no single-leg write path.
	RecordPlacement(ctx context.Context, id string, legs [2]PlacedLeg) error

	// UpdateStatus moves the trade from expected to next, failing with
	// ErrInvalidTransition when the row is not in the expected status.
	UpdateStatus(ctx context.Context, id string, expected, next TradeStatus) error

	// MarkLegFilled sets the filled flag (and observed shares/price) on
	// one leg. legIndex is 0 or 1.
	MarkLegFilled(ctx context.Context, id string, legIndex int, shares, price float64) error

	// MarkFailed moves the trade to failed and records the consolidated
	// error message, including any rollback failures.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Settle records the realized profit and moves the trade from
	// completed to settled in a single conditional update.
	Settle(ctx context.Context, id string, actualProfit float64) error

	ListByStatus(ctx context.Context, status TradeStatus, limit int) ([]Trade, error)
	CountForUserSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// LockManager provides a distributed mutual-exclusion primitive used to
// serialize execution attempts against the same opportunity across engine
// instances.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The
	// returned function releases the lock and is safe to call twice.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// TradeArchiver writes an audit snapshot of a terminal trade to cold
// storage. Archival failures are logged, never allowed to block
// settlement.
type TradeArchiver interface {
	ArchiveTrade(ctx context.Context, trade Trade) error
}
