package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TradeStatus
		want     bool
	}{
		{TradeStatusPending, TradeStatusPartial, true},
		{TradeStatusPending, TradeStatusFailed, true},
		{TradeStatusPending, TradeStatusCompleted, false},
		{TradeStatusPending, TradeStatusSettled, false},
		{TradeStatusPartial, TradeStatusCompleted, true},
		{TradeStatusPartial, TradeStatusFailed, true},
		{TradeStatusPartial, TradeStatusStale, true},
		{TradeStatusPartial, TradeStatusSettled, false},
		{TradeStatusCompleted, TradeStatusSettled, true},
		{TradeStatusCompleted, TradeStatusStale, true},
		{TradeStatusCompleted, TradeStatusFailed, false},
		{TradeStatusSettled, TradeStatusFailed, false},
		{TradeStatusFailed, TradeStatusPending, false},
		{TradeStatusStale, TradeStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTradeStatus_Terminal(t *testing.T) {
	terminal := []TradeStatus{TradeStatusSettled, TradeStatusFailed, TradeStatusStale}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	active := []TradeStatus{TradeStatusPending, TradeStatusPartial, TradeStatusCompleted}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestOpportunity_Edge(t *testing.T) {
	opp := Opportunity{Legs: [2]MarketRef{{Price: 0.45}, {Price: 0.50}}}
	got := opp.Edge()
	if got < 0.0499 || got > 0.0501 {
		t.Errorf("Edge() = %v, want ~0.05", got)
	}

	converged := Opportunity{Legs: [2]MarketRef{{Price: 0.55}, {Price: 0.50}}}
	if converged.Edge() >= 0 {
		t.Errorf("Edge() = %v, want negative for converged prices", converged.Edge())
	}
}
