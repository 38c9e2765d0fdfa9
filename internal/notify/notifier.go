// Package notify delivers operator alerts for trade lifecycle events that
// need a human: stale trades, deferred settlements, rollback failures.
// Alerts fan out to every configured channel (Telegram, Discord) and can be
// filtered by event so operators only hear about what they act on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crwnlabs/crossarb/internal/domain"
)

// Event classifies an alert for filtering.
type Event string

const (
	// EventTradeStale fires when the fill monitor exhausts its budget with
	// capital possibly live on a venue. Always needs a human.
	EventTradeStale Event = "trade_stale"
	// EventSettlementDeferred fires when the resolution watch gives up
	// waiting for markets to resolve. The trade stays completed.
	EventSettlementDeferred Event = "settlement_deferred"
	// EventRollbackFailed fires when a compensating action failed during
	// trade rollback and funds may still be committed somewhere.
	EventRollbackFailed Event = "rollback_failed"
	// EventCreditFailed fires when a settled trade's profit credit was
	// rejected by the ledger. The trade is terminal, so nothing retries
	// the credit.
	EventCreditFailed Event = "credit_failed"
	// EventTradeSettled fires on successful settlement. Informational.
	EventTradeSettled Event = "trade_settled"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to its senders. Only events in the allowed set
// are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered
// to the given events (all events when the list is empty).
func NewNotifier(senders []Sender, events []Event, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders if the event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(event)))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeAlert formats and sends a lifecycle alert for one trade.
func (n *Notifier) TradeAlert(ctx context.Context, event Event, trade domain.Trade, detail string) error {
	title := fmt.Sprintf("[crossarb] %s", event)
	var b strings.Builder
	fmt.Fprintf(&b, "trade: %s\nstatus: %s\nuser: %s\ninvestment: %.2f",
		trade.ID, trade.Status, trade.UserID, trade.InvestmentAmount)
	for i, leg := range trade.Legs {
		fmt.Fprintf(&b, "\nleg%d: %s %s %s order=%s filled=%v",
			i+1, leg.Venue, leg.MarketID, leg.Side, leg.OrderID, leg.Filled)
	}
	if detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", detail)
	}
	return n.Notify(ctx, event, title, b.String())
}

// dispatch sends to every sender. One channel failing does not stop the
// others; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
