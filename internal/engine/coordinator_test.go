package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crwnlabs/crossarb/internal/domain"
	"github.com/crwnlabs/crossarb/internal/notify"
	"github.com/crwnlabs/crossarb/internal/venue"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memOpportunityStore struct {
	mu   sync.Mutex
	opps map[string]domain.Opportunity
}

func newMemOpportunityStore() *memOpportunityStore {
	return &memOpportunityStore{opps: make(map[string]domain.Opportunity)}
}

func (s *memOpportunityStore) Create(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

func (s *memOpportunityStore) GetByID(_ context.Context, id string) (domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return opp, nil
}

func (s *memOpportunityStore) MarkExecuted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok || opp.Status != domain.OpportunityActive {
		return domain.ErrOpportunityNotActive
	}
	opp.Status = domain.OpportunityExecuted
	s.opps[id] = opp
	return nil
}

func (s *memOpportunityStore) ExpireBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, opp := range s.opps {
		if opp.Status == domain.OpportunityActive && opp.ExpiresAt.Before(cutoff) {
			opp.Status = domain.OpportunityExpired
			s.opps[id] = opp
			n++
		}
	}
	return n, nil
}

func (s *memOpportunityStore) ListActive(_ context.Context, limit int) ([]domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []domain.Opportunity
	for _, opp := range s.opps {
		if opp.Status == domain.OpportunityActive {
			list = append(list, opp)
		}
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

type memTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *memTradeStore) Create(_ context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[trade.ID] = trade
	return nil
}

func (s *memTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trade, nil
}

func (s *memTradeStore) SetEscrowLock(_ context.Context, id, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok || trade.Status != domain.TradeStatusPending {
		return domain.ErrInvalidTransition
	}
	trade.EscrowLockID = lockID
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) RecordPlacement(_ context.Context, id string, legs [2]domain.PlacedLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok || trade.Status != domain.TradeStatusPending {
		return domain.ErrInvalidTransition
	}
	for i, leg := range legs {
		trade.Legs[i].OrderID = leg.OrderID
		trade.Legs[i].Shares = leg.Shares
		trade.Legs[i].Price = leg.Price
	}
	now := time.Now()
	trade.ExecutedAt = &now
	trade.Status = domain.TradeStatusPartial
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) UpdateStatus(_ context.Context, id string, expected, next domain.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if trade.Status != expected || !domain.CanTransition(expected, next) {
		return domain.ErrInvalidTransition
	}
	trade.Status = next
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) MarkLegFilled(_ context.Context, id string, legIndex int, shares, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	trade.Legs[legIndex].Filled = true
	trade.Legs[legIndex].Shares = shares
	trade.Legs[legIndex].Price = price
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if trade.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	trade.Status = domain.TradeStatusFailed
	trade.Error = errMsg
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) Settle(_ context.Context, id string, actualProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok || trade.Status != domain.TradeStatusCompleted {
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	trade.Status = domain.TradeStatusSettled
	trade.ActualProfit = &actualProfit
	trade.SettledAt = &now
	s.trades[id] = trade
	return nil
}

func (s *memTradeStore) ListByStatus(_ context.Context, status domain.TradeStatus, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []domain.Trade
	for _, trade := range s.trades {
		if trade.Status == status {
			list = append(list, trade)
		}
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

func (s *memTradeStore) CountForUserSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, trade := range s.trades {
		if trade.UserID == userID && !trade.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type fakeEscrow struct {
	mu         sync.Mutex
	refuse     bool
	releaseErr error
	creditErr  error
	nextID     int
	locked     map[string]bool // lock id -> still held
	releases   []string
	credits    []float64
	lockCalls  int
}

func newFakeEscrow() *fakeEscrow {
	return &fakeEscrow{locked: make(map[string]bool)}
}

func (e *fakeEscrow) Lock(_ context.Context, req domain.LockRequest) (domain.LockResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockCalls++
	if e.refuse {
		return domain.LockResult{Success: false, Error: "insufficient balance"}, nil
	}
	e.nextID++
	id := fmt.Sprintf("lock-%d", e.nextID)
	e.locked[id] = true
	return domain.LockResult{Success: true, LockID: id}, nil
}

func (e *fakeEscrow) Release(_ context.Context, lockID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.releaseErr != nil {
		return e.releaseErr
	}
	e.releases = append(e.releases, lockID)
	e.locked[lockID] = false
	return nil
}

func (e *fakeEscrow) Credit(_ context.Context, _ string, amount float64, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.creditErr != nil {
		return e.creditErr
	}
	e.credits = append(e.credits, amount)
	return nil
}

func (e *fakeEscrow) GetLockByReference(_ context.Context, _ string) (*domain.EscrowLock, error) {
	return nil, domain.ErrNotFound
}

func (e *fakeEscrow) held(lockID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked[lockID]
}

// fakeAdapter scripts one venue's behavior per test.
type fakeAdapter struct {
	name         domain.Venue
	mu           sync.Mutex
	placeErr     error
	placed       []domain.OrderRequest
	cancelled    []string
	statusFn     func(orderID string) (domain.OrderStatus, error)
	resolutionFn func(marketID string) (domain.MarketResolution, error)

	// fund-safety tripwire: when set, Place fails the test if called
	// while no escrow lock is held.
	escrow *fakeEscrow
	t      *testing.T
}

func (a *fakeAdapter) Name() domain.Venue { return a.name }

func (a *fakeAdapter) Place(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.escrow != nil {
		a.escrow.mu.Lock()
		anyHeld := false
		for _, held := range a.escrow.locked {
			anyHeld = anyHeld || held
		}
		a.escrow.mu.Unlock()
		if !anyHeld {
			a.t.Errorf("%s: order placed without escrow locked", a.name)
		}
	}
	if a.placeErr != nil {
		return domain.OrderResult{}, a.placeErr
	}
	a.placed = append(a.placed, req)
	return domain.OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("%s-order-%d", a.name, len(a.placed)),
		Shares:  req.Amount / req.LimitPrice,
		Price:   req.LimitPrice,
	}, nil
}

func (a *fakeAdapter) Status(_ context.Context, orderID string) (domain.OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusFn != nil {
		return a.statusFn(orderID)
	}
	return domain.OrderStatus{OrderID: orderID, State: domain.FillPending}, nil
}

func (a *fakeAdapter) Cancel(_ context.Context, orderID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, orderID)
	return true, nil
}

func (a *fakeAdapter) Resolution(_ context.Context, marketID string) (domain.MarketResolution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolutionFn != nil {
		return a.resolutionFn(marketID)
	}
	return domain.MarketResolution{}, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held[key] = false
	}, nil
}

type capturedAlert struct {
	event  notify.Event
	trade  domain.Trade
	detail string
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []capturedAlert
}

func (a *fakeAlerter) TradeAlert(_ context.Context, event notify.Event, trade domain.Trade, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, capturedAlert{event, trade, detail})
	return nil
}

func (a *fakeAlerter) events() []notify.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var evs []notify.Event
	for _, al := range a.alerts {
		evs = append(evs, al.event)
	}
	return evs
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	coord  *Coordinator
	opps   *memOpportunityStore
	trades *memTradeStore
	escrow *fakeEscrow
	poly   *fakeAdapter
	kalshi *fakeAdapter
	locks  *fakeLocks
	alerts *fakeAlerter
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		opps:   newMemOpportunityStore(),
		trades: newMemTradeStore(),
		escrow: newFakeEscrow(),
		locks:  newFakeLocks(),
		alerts: &fakeAlerter{},
	}
	h.poly = &fakeAdapter{name: domain.VenuePolymarket, escrow: h.escrow, t: t}
	h.kalshi = &fakeAdapter{name: domain.VenueKalshi, escrow: h.escrow, t: t}
	h.coord = NewCoordinator(cfg, Deps{
		Opportunities: h.opps,
		Trades:        h.trades,
		Escrow:        h.escrow,
		Venues: map[domain.Venue]venue.Adapter{
			domain.VenuePolymarket: h.poly,
			domain.VenueKalshi:     h.kalshi,
		},
		Locks:    h.locks,
		Notifier: h.alerts,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func defaultConfig() Config {
	return Config{
		Enabled:                true,
		MinProfitMargin:        0.02,
		MaxDailyTrades:         10,
		MaxInvestment:          10000,
		FillPollInterval:       time.Millisecond,
		FillMaxAttempts:        5,
		ResolutionPollInterval: time.Millisecond,
		ResolutionMaxAttempts:  5,
	}
}

func activeOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID: "opp-1",
		Legs: [2]domain.MarketRef{
			{Venue: domain.VenuePolymarket, MarketID: "0xcond", Side: domain.SideYes, Price: 0.45},
			{Venue: domain.VenueKalshi, MarketID: "TICKER-24", Side: domain.SideNo, Price: 0.50},
		},
		Spread:     0.05,
		Status:     domain.OpportunityActive,
		DetectedAt: time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

// ---------------------------------------------------------------------------
// Saga tests
// ---------------------------------------------------------------------------

func TestExecuteArbitrage_HappyPathThroughSettlement(t *testing.T) {
	h := newHarness(t, defaultConfig())
	require.NoError(t, h.opps.Create(context.Background(), activeOpportunity()))

	h.poly.statusFn = func(orderID string) (domain.OrderStatus, error) {
		return domain.OrderStatus{OrderID: orderID, State: domain.FillFilled, FilledShares: 1052.63, Price: 0.45}, nil
	}
	h.kalshi.statusFn = func(orderID string) (domain.OrderStatus, error) {
		return domain.OrderStatus{OrderID: orderID, State: domain.FillFilled, FilledShares: 1052.63, Price: 0.50}, nil
	}
	// YES wins on the Polymarket market; the equivalent Kalshi market
	// resolves YES too, so its NO leg loses.
	resolved := func(string) (domain.MarketResolution, error) {
		return domain.MarketResolution{Resolved: true, Outcome: true}, nil
	}
	h.poly.resolutionFn = resolved
	h.kalshi.resolutionFn = resolved

	res := h.coord.ExecuteArbitrage(context.Background(), "user-1", "opp-1", 1000)
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, domain.TradeStatusPartial, res.Status)
	assert.InDelta(t, 52.63, res.ExpectedProfit, 0.01)

	// Proportional allocation: 1000 at 0.45/0.50 splits 473.68 / 526.32.
	require.Len(t, h.poly.placed, 1)
	require.Len(t, h.kalshi.placed, 1)
	assert.InDelta(t, 473.68, h.poly.placed[0].Amount, 0.01)
	assert.InDelta(t, 526.32, h.kalshi.placed[0].Amount, 0.01)

	h.coord.Wait()

	trade, err := h.trades.GetByID(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusSettled, trade.Status)
	require.NotNil(t, trade.ActualProfit)
	assert.InDelta(t, 52.63, *trade.ActualProfit, 0.01)
	assert.NotNil(t, trade.SettledAt)

	// Escrow unwound exactly once and the profit credited.
	assert.False(t, h.escrow.held(trade.EscrowLockID))
	assert.Equal(t, []string{trade.EscrowLockID}, h.escrow.releases)
	require.Len(t, h.escrow.credits, 1)
	assert.InDelta(t, 52.63, h.escrow.credits[0], 0.01)
}

func TestExecuteArbitrage_OneLegRejectedRollsBack(t *testing.T) {
	h := newHarness(t, defaultConfig())
	require.NoError(t, h.opps.Create(context.Background(), activeOpportunity()))
	h.kalshi.placeErr = errors.New("order rejected: insufficient margin")

	res := h.coord.ExecuteArbitrage(context.Background(), "user-1", "opp-1", 1000)
	require.False(t, res.Success)
	assert.Equal(t, domain.TradeStatusFailed, res.Status)
	assert.Contains(t, res.Error, "order rejected")

	trade, err := h.trades.GetByID(context.Background(), res.TradeID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, trade.Status)
	assert.Contains(t, trade.Error, "order rejected")

	// The placed leg was cancelled and escrow released.
	if len(h.poly.placed) > 0 {
		assert.Len(t, h.poly.cancelled, 1)
	}
	assert.False(t, h.escrow.held(trade.EscrowLockID))
	assert.NotEmpty(t, h.escrow.releases)
}

func TestExecuteArbitrage_EscrowRefusalFailsBeforeAnyOrder(t *testing.T) {
	h := newHarness(t, defaultConfig())
	require.NoError(t, h.opps.Create(context.Background(), activeOpportunity()))
	h.escrow.refuse = true

	res := h.coord.ExecuteArbitrage(context.Background(), "user-1", "opp-1", 1000)
	require.False(t, res.Success)
	assert.Equal(t, domain.TradeStatusFailed, res.Status)
	assert.Contains(t, res.Error, "insufficient balance")
	assert.Empty(t, h.poly.placed)
	assert.Empty(t, h.kalshi.placed)
}

func TestExecuteArbitrage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		cfg     func(c Config) Config
		userID  string
		oppID   string
		amount  float64
		wantErr error
	}{
		{
			name:    "trading disabled",
			cfg:     func(c Config) Config { c.Enabled = false; return c },
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrTradingDisabled,
		},
		{
			name:    "investment above maximum",
			oppID:   "opp-1",
			amount:  50000,
			wantErr: domain.ErrInvestmentTooLarge,
		},
		{
			name: "daily limit reached",
			cfg:  func(c Config) Config { c.MaxDailyTrades = 1; return c },
			setup: func(h *harness) {
				_ = h.trades.Create(context.Background(), domain.Trade{
					ID: "earlier", UserID: "user-1", Status: domain.TradeStatusSettled,
					CreatedAt: time.Now(),
				})
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrDailyLimitReached,
		},
		{
			name: "opportunity expired",
			setup: func(h *harness) {
				opp := activeOpportunity()
				opp.ExpiresAt = time.Now().Add(-time.Minute)
				h.opps.opps["opp-1"] = opp
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrOpportunityExpired,
		},
		{
			name: "opportunity already executed",
			setup: func(h *harness) {
				opp := activeOpportunity()
				opp.Status = domain.OpportunityExecuted
				h.opps.opps["opp-1"] = opp
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrOpportunityNotActive,
		},
		{
			name: "converged prices",
			setup: func(h *harness) {
				opp := activeOpportunity()
				opp.Legs[0].Price = 0.55
				opp.Legs[1].Price = 0.50
				h.opps.opps["opp-1"] = opp
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrPricesConverged,
		},
		{
			name: "edge below minimum margin",
			cfg:  func(c Config) Config { c.MinProfitMargin = 0.10; return c },
			setup: func(h *harness) {
				h.opps.opps["opp-1"] = activeOpportunity() // edge 0.05
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrInsufficientMargin,
		},
		{
			name: "execution lock held",
			setup: func(h *harness) {
				h.locks.held["opportunity:opp-1"] = true
			},
			oppID:   "opp-1",
			amount:  1000,
			wantErr: domain.ErrLockHeld,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			h := newHarness(t, cfg)
			if _, exists := h.opps.opps[tt.oppID]; !exists {
				_ = h.opps.Create(context.Background(), activeOpportunity())
			}
			if tt.setup != nil {
				tt.setup(h)
			}
			userID := tt.userID
			if userID == "" {
				userID = "user-1"
			}

			res := h.coord.ExecuteArbitrage(context.Background(), userID, tt.oppID, tt.amount)
			require.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr.Error())

			// Validations are side-effect free: no escrow, no orders.
			assert.Zero(t, h.escrow.lockCalls)
			assert.Empty(t, h.poly.placed)
			assert.Empty(t, h.kalshi.placed)
		})
	}
}
