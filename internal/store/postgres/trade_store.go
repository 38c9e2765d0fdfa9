package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crwnlabs/crossarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Every status
// change is a conditional update guarded by the current status; a zero-row
// update means another actor got there first and surfaces as
// ErrInvalidTransition.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `
	id, user_id, opportunity_id,
	leg1_venue, leg1_market_id, leg1_side, leg1_amount, leg1_shares, leg1_price, leg1_order_id, leg1_filled,
	leg2_venue, leg2_market_id, leg2_side, leg2_amount, leg2_shares, leg2_price, leg2_order_id, leg2_filled,
	investment_amount, expected_profit, actual_profit, escrow_lock_id, status, error_message,
	created_at, executed_at, settled_at`

// Create inserts a new pending trade.
func (s *TradeStore) Create(ctx context.Context, trade domain.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3,
			$4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25,
			$26, $27, $28)`,
		trade.ID, trade.UserID, trade.OpportunityID,
		string(trade.Legs[0].Venue), trade.Legs[0].MarketID, string(trade.Legs[0].Side),
		trade.Legs[0].Amount, trade.Legs[0].Shares, trade.Legs[0].Price, trade.Legs[0].OrderID, trade.Legs[0].Filled,
		string(trade.Legs[1].Venue), trade.Legs[1].MarketID, string(trade.Legs[1].Side),
		trade.Legs[1].Amount, trade.Legs[1].Shares, trade.Legs[1].Price, trade.Legs[1].OrderID, trade.Legs[1].Filled,
		trade.InvestmentAmount, trade.ExpectedProfit, trade.ActualProfit, trade.EscrowLockID,
		string(trade.Status), trade.Error,
		trade.CreatedAt, trade.ExecutedAt, trade.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// GetByID returns one trade by id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return trade, nil
}

// SetEscrowLock records the escrow lock id on a trade that is still
// pending.
func (s *TradeStore) SetEscrowLock(ctx context.Context, id, lockID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET escrow_lock_id = $1 WHERE id = $2 AND status = $3`,
		lockID, id, string(domain.TradeStatusPending),
	)
	if err != nil {
		return fmt.Errorf("postgres: set escrow lock for trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not pending: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// RecordPlacement stores both legs' placement facts and moves the trade
// from pending to partial in one update. Both legs get written or neither:
// a trade never exists with one recorded order id.
func (s *TradeStore) RecordPlacement(ctx context.Context, id string, legs [2]domain.PlacedLeg) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET
			leg1_order_id = $1, leg1_shares = $2, leg1_price = $3,
			leg2_order_id = $4, leg2_shares = $5, leg2_price = $6,
			status = $7, executed_at = NOW()
		WHERE id = $8 AND status = $9`,
		legs[0].OrderID, legs[0].Shares, legs[0].Price,
		legs[1].OrderID, legs[1].Shares, legs[1].Price,
		string(domain.TradeStatusPartial), id, string(domain.TradeStatusPending),
	)
	if err != nil {
		return fmt.Errorf("postgres: record placement for trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not pending: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// UpdateStatus moves the trade from expected to next. The state machine is
// enforced twice: in code before issuing the update, and by the WHERE
// clause against whatever is actually in the row.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, expected, next domain.TradeStatus) error {
	if !domain.CanTransition(expected, next) {
		return fmt.Errorf("trade %s: %s -> %s: %w", id, expected, next, domain.ErrInvalidTransition)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET status = $1 WHERE id = $2 AND status = $3`,
		string(next), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not %s: %w", id, expected, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkLegFilled sets the filled flag and the observed shares/price on one
// leg. legIndex is 0 or 1.
func (s *TradeStore) MarkLegFilled(ctx context.Context, id string, legIndex int, shares, price float64) error {
	var query string
	switch legIndex {
	case 0:
		query = `UPDATE trades SET leg1_filled = TRUE, leg1_shares = $1, leg1_price = $2 WHERE id = $3`
	case 1:
		query = `UPDATE trades SET leg2_filled = TRUE, leg2_shares = $1, leg2_price = $2 WHERE id = $3`
	default:
		return fmt.Errorf("postgres: mark leg filled: leg index %d out of range", legIndex)
	}
	tag, err := s.pool.Exec(ctx, query, shares, price, id)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %s leg %d filled: %w", id, legIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkFailed moves the trade to failed from any non-terminal status and
// records the consolidated error message. Terminal rows are left alone.
func (s *TradeStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET status = $1, error_message = $2
		WHERE id = $3 AND status IN ($4, $5, $6)`,
		string(domain.TradeStatusFailed), errMsg, id,
		string(domain.TradeStatusPending), string(domain.TradeStatusPartial), string(domain.TradeStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is already terminal: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// Settle records the realized profit and moves the trade from completed to
// settled in a single conditional update, so double settlement of the same
// trade is impossible.
func (s *TradeStore) Settle(ctx context.Context, id string, actualProfit float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET status = $1, actual_profit = $2, settled_at = NOW()
		WHERE id = $3 AND status = $4`,
		string(domain.TradeStatusSettled), actualProfit, id, string(domain.TradeStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("postgres: settle trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not completed: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// ListByStatus returns trades in the given status, oldest first, so
// recovery works through the backlog in arrival order.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status %s: %w", status, err)
	}
	defer rows.Close()

	var list []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, trade)
	}
	return list, rows.Err()
}

// CountForUserSince counts the user's trades created at or after since.
// Failed trades count too: a user who keeps tripping rollbacks burns their
// daily budget like everyone else.
func (s *TradeStore) CountForUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades for user %s: %w", userID, err)
	}
	return count, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var v1, s1, v2, s2, status string
	err := row.Scan(
		&t.ID, &t.UserID, &t.OpportunityID,
		&v1, &t.Legs[0].MarketID, &s1, &t.Legs[0].Amount, &t.Legs[0].Shares, &t.Legs[0].Price, &t.Legs[0].OrderID, &t.Legs[0].Filled,
		&v2, &t.Legs[1].MarketID, &s2, &t.Legs[1].Amount, &t.Legs[1].Shares, &t.Legs[1].Price, &t.Legs[1].OrderID, &t.Legs[1].Filled,
		&t.InvestmentAmount, &t.ExpectedProfit, &t.ActualProfit, &t.EscrowLockID, &status, &t.Error,
		&t.CreatedAt, &t.ExecutedAt, &t.SettledAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Legs[0].Venue = domain.Venue(v1)
	t.Legs[0].Side = domain.Side(s1)
	t.Legs[1].Venue = domain.Venue(v2)
	t.Legs[1].Side = domain.Side(s2)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
