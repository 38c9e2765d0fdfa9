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

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityColumns = `
	id,
	leg1_venue, leg1_market_id, leg1_side, leg1_price,
	leg2_venue, leg2_market_id, leg2_side, leg2_price,
	spread, potential_profit, status, detected_at, expires_at`

// Create inserts an opportunity snapshot.
func (s *OpportunityStore) Create(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (`+opportunityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		opp.ID,
		string(opp.Legs[0].Venue), opp.Legs[0].MarketID, string(opp.Legs[0].Side), opp.Legs[0].Price,
		string(opp.Legs[1].Venue), opp.Legs[1].MarketID, string(opp.Legs[1].Side), opp.Legs[1].Price,
		opp.Spread, opp.PotentialProfit, string(opp.Status), opp.DetectedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity: %w", err)
	}
	return nil
}

// GetByID returns one opportunity by id.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id)
	opp, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// MarkExecuted flips an active opportunity to executed. The WHERE clause on
// the current status makes the flip atomic: the second of two racing
// executors sees zero rows affected and gets ErrOpportunityNotActive.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = $1
		WHERE id = $2 AND status = $3`,
		string(domain.OpportunityExecuted), id, string(domain.OpportunityActive),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("opportunity %s: %w", id, domain.ErrOpportunityNotActive)
	}
	return nil
}

// ExpireBefore marks every active opportunity whose window closed before the
// cutoff as expired and returns how many rows changed.
func (s *OpportunityStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		string(domain.OpportunityExpired), string(domain.OpportunityActive), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns active opportunities, widest spread first.
func (s *OpportunityStore) ListActive(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunityColumns+` FROM opportunities
		WHERE status = $1 ORDER BY spread DESC LIMIT $2`,
		string(domain.OpportunityActive), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active opportunities: %w", err)
	}
	defer rows.Close()

	var list []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, opp)
	}
	return list, rows.Err()
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var v1, s1, v2, s2, status string
	err := row.Scan(
		&opp.ID,
		&v1, &opp.Legs[0].MarketID, &s1, &opp.Legs[0].Price,
		&v2, &opp.Legs[1].MarketID, &s2, &opp.Legs[1].Price,
		&opp.Spread, &opp.PotentialProfit, &status, &opp.DetectedAt, &opp.ExpiresAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	opp.Legs[0].Venue = domain.Venue(v1)
	opp.Legs[0].Side = domain.Side(s1)
	opp.Legs[1].Venue = domain.Venue(v2)
	opp.Legs[1].Side = domain.Side(s2)
	opp.Status = domain.OpportunityStatus(status)
	return opp, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
