// Package resilience provides the per-venue fault-isolation primitives the
// venue adapters wrap every external call in: a three-state circuit breaker
// and an adaptive rate limiter that learns each venue's live quota from
// response headers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call. It is
// deliberately distinct from any venue-level failure: it means the venue is
// being avoided, not that the venue rejected the call.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitState is the breaker's current mode.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	FailureThreshold int
	// Cooldown is the initial open period before a probe is allowed.
	Cooldown time.Duration
	// MaxCooldown caps the backed-off cooldown after repeated probe
	// failures.
	MaxCooldown time.Duration
}

func (c *BreakerConfig) withDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 10 * time.Minute
	}
}

// Breaker is a per-venue circuit breaker. CLOSED passes calls through and
// counts consecutive failures; after FailureThreshold failures it opens.
// OPEN short-circuits with ErrCircuitOpen until the cooldown elapses, then
// HALF_OPEN admits a single probe: success closes the circuit, failure
// re-opens it with a doubled cooldown up to MaxCooldown.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger

	mu            sync.Mutex
	state         CircuitState
	consecFails   int
	openUntil     time.Time
	curCooldown   time.Duration
	probeInFlight bool
}

// NewBreaker creates a Breaker for the named venue.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	cfg.withDefaults()
	return &Breaker{
		name:        name,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "breaker"), slog.String("venue", name)),
		state:       CircuitClosed,
		curCooldown: cfg.Cooldown,
	}
}

// State returns the breaker's current state, accounting for an elapsed
// cooldown.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && !time.Now().Before(b.openUntil) {
		return CircuitHalfOpen
	}
	return b.state
}

// Execute runs fn under the breaker. When the circuit is open it returns
// ErrCircuitOpen (wrapped with the label) without invoking fn. The label
// identifies the operation in logs and errors.
func (b *Breaker) Execute(ctx context.Context, label string, fn func(context.Context) error) error {
	if err := b.admit(label); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(label, err)
	return err
}

// admit decides whether a call may proceed, transitioning OPEN to HALF_OPEN
// once the cooldown has elapsed. In HALF_OPEN only one probe is in flight at
// a time; concurrent callers are short-circuited.
func (b *Breaker) admit(label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Now().Before(b.openUntil) {
			return fmt.Errorf("%s: %w", label, ErrCircuitOpen)
		}
		b.state = CircuitHalfOpen
		b.probeInFlight = true
		b.logger.Info("circuit half-open, probing", slog.String("op", label))
		return nil
	case CircuitHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%s: %w", label, ErrCircuitOpen)
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// record updates breaker state from a call outcome. Context cancellation is
// the caller's doing, not the venue's, so it neither trips nor resets the
// circuit.
func (b *Breaker) record(label string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.probeInFlight = false
		return
	}

	if err == nil {
		if b.state == CircuitHalfOpen {
			b.logger.Info("probe succeeded, circuit closed", slog.String("op", label))
		}
		b.state = CircuitClosed
		b.consecFails = 0
		b.probeInFlight = false
		b.curCooldown = b.cfg.Cooldown
		return
	}

	if b.state == CircuitHalfOpen {
		// Failed probe: back off and re-open.
		b.probeInFlight = false
		b.curCooldown *= 2
		if b.curCooldown > b.cfg.MaxCooldown {
			b.curCooldown = b.cfg.MaxCooldown
		}
		b.trip(label)
		return
	}

	b.consecFails++
	if b.consecFails >= b.cfg.FailureThreshold {
		b.trip(label)
	}
}

// trip opens the circuit for the current cooldown. Caller holds b.mu.
func (b *Breaker) trip(label string) {
	b.state = CircuitOpen
	b.openUntil = time.Now().Add(b.curCooldown)
	b.consecFails = 0
	b.logger.Warn("circuit opened",
		slog.String("op", label),
		slog.Duration("cooldown", b.curCooldown),
	)
}
