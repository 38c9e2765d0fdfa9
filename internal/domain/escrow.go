package domain

import (
	"context"
	"time"
)

// EscrowLockStatus is the state of a fund reservation.
type EscrowLockStatus string

const (
	EscrowLocked   EscrowLockStatus = "locked"
	EscrowReleased EscrowLockStatus = "released"
)

// EscrowLock is a reservation of user funds held by the external escrow
// ledger. The engine only ever holds the lock id; the ledger is the sole
// authority over whether funds are at risk.
type EscrowLock struct {
	ID          string
	UserID      string
	Amount      float64
	Purpose     string
	ReferenceID string // trade id
	Status      EscrowLockStatus
	CreatedAt   time.Time
}

// LockRequest is the input to Escrow.Lock.
type LockRequest struct {
	UserID      string
	Amount      float64
	Purpose     string
	ReferenceID string
}

// LockResult is the ledger's answer to a lock attempt. A failed lock is a
// normal business outcome (insufficient balance), not a transport error.
type LockResult struct {
	Success bool
	LockID  string
	Error   string
}

// Escrow is the contract with the external escrow ledger. Release must be
// idempotent: releasing an already-released lock is a no-op, never an error.
// Credit is only ever called from the settlement path.
type Escrow interface {
	Lock(ctx context.Context, req LockRequest) (LockResult, error)
	Release(ctx context.Context, lockID, reason string) error
	Credit(ctx context.Context, userID string, amount float64, reason string) error
	GetLockByReference(ctx context.Context, referenceID string) (*EscrowLock, error)
}
