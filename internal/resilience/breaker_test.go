package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errVenue = errors.New("venue exploded")

func failing(context.Context) error    { return errVenue }
func succeeding(context.Context) error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("kalshi", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, "place", failing); !errors.Is(err, errVenue) {
			t.Fatalf("call %d: got %v, want venue error", i, err)
		}
	}

	err := b.Execute(ctx, "place", failing)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if errors.Is(err, errVenue) {
		t.Fatal("circuit-open error must not look like a venue failure")
	}
	if got := b.State(); got != CircuitOpen {
		t.Errorf("State() = %s, want open", got)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("kalshi", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, testLogger())
	ctx := context.Background()

	_ = b.Execute(ctx, "place", failing)
	_ = b.Execute(ctx, "place", failing)
	_ = b.Execute(ctx, "place", succeeding)
	_ = b.Execute(ctx, "place", failing)
	_ = b.Execute(ctx, "place", failing)

	if got := b.State(); got != CircuitClosed {
		t.Errorf("State() = %s, want closed after interleaved success", got)
	}
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := NewBreaker("polymarket", BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond}, testLogger())
	ctx := context.Background()

	_ = b.Execute(ctx, "place", failing)
	if b.State() != CircuitOpen {
		t.Fatal("expected open after threshold failure")
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != CircuitHalfOpen {
		t.Fatal("expected half-open after cooldown")
	}

	if err := b.Execute(ctx, "place", succeeding); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != CircuitClosed {
		t.Errorf("State() = %s, want closed after successful probe", got)
	}
}

func TestBreaker_FailedProbeBacksOff(t *testing.T) {
	b := NewBreaker("polymarket", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         20 * time.Millisecond,
		MaxCooldown:      time.Minute,
	}, testLogger())
	ctx := context.Background()

	_ = b.Execute(ctx, "place", failing)
	time.Sleep(30 * time.Millisecond)

	// Probe fails: circuit re-opens with a doubled cooldown.
	if err := b.Execute(ctx, "place", failing); !errors.Is(err, errVenue) {
		t.Fatalf("probe: got %v, want venue error", err)
	}
	if b.State() != CircuitOpen {
		t.Fatal("expected open after failed probe")
	}

	// The original cooldown is no longer enough.
	time.Sleep(25 * time.Millisecond)
	if err := b.Execute(ctx, "place", failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen during backed-off cooldown", err)
	}
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := NewBreaker("kalshi", BreakerConfig{FailureThreshold: 1, Cooldown: 5 * time.Millisecond}, testLogger())
	ctx := context.Background()

	_ = b.Execute(ctx, "place", failing)
	time.Sleep(10 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, "place", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// Second caller while the probe is in flight must short-circuit.
	if err := b.Execute(ctx, "place", succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen while probe in flight", err)
	}
	close(release)
}
