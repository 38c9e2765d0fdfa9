package resilience

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestLimiter_ObserveHeaderVariants(t *testing.T) {
	tests := []struct {
		name          string
		headers       map[string]string
		wantRemaining int
		wantLimit     int
	}{
		{
			name: "x-prefixed",
			headers: map[string]string{
				"X-RateLimit-Remaining": "7",
				"X-RateLimit-Limit":     "10",
			},
			wantRemaining: 7,
			wantLimit:     10,
		},
		{
			name: "unprefixed",
			headers: map[string]string{
				"RateLimit-Remaining": "3",
				"RateLimit-Limit":     "20",
			},
			wantRemaining: 3,
			wantLimit:     20,
		},
		{
			name: "dashed rate-limit",
			headers: map[string]string{
				"X-Rate-Limit-Remaining": "1",
				"X-Rate-Limit-Limit":     "5",
			},
			wantRemaining: 1,
			wantLimit:     5,
		},
		{
			name: "float counters",
			headers: map[string]string{
				"X-RateLimit-Remaining": "0.0",
				"X-RateLimit-Limit":     "10.0",
			},
			wantRemaining: 0,
			wantLimit:     10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter("venue", LimiterConfig{DefaultLimit: 99}, testLogger())
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			l.Observe(h)
			remaining, limit, _ := l.Snapshot()
			if remaining != tt.wantRemaining || limit != tt.wantLimit {
				t.Errorf("Snapshot() = (%d, %d), want (%d, %d)",
					remaining, limit, tt.wantRemaining, tt.wantLimit)
			}
		})
	}
}

func TestLimiter_ObserveResetEncodings(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		reset string
		check func(t *testing.T, resetAt time.Time)
	}{
		{
			name:  "relative seconds",
			reset: "30",
			check: func(t *testing.T, resetAt time.Time) {
				d := resetAt.Sub(now)
				if d < 29*time.Second || d > 31*time.Second {
					t.Errorf("resetAt %v from now, want ~30s", d)
				}
			},
		},
		{
			name:  "absolute epoch seconds",
			reset: strconv.FormatInt(now.Add(45*time.Second).Unix(), 10),
			check: func(t *testing.T, resetAt time.Time) {
				d := resetAt.Sub(now)
				if d < 43*time.Second || d > 46*time.Second {
					t.Errorf("resetAt %v from now, want ~45s", d)
				}
			},
		},
		{
			name:  "absolute epoch millis",
			reset: strconv.FormatInt(now.Add(10*time.Second).UnixMilli(), 10),
			check: func(t *testing.T, resetAt time.Time) {
				d := resetAt.Sub(now)
				if d < 9*time.Second || d > 11*time.Second {
					t.Errorf("resetAt %v from now, want ~10s", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter("venue", LimiterConfig{}, testLogger())
			h := http.Header{}
			h.Set("X-RateLimit-Remaining", "5")
			h.Set("X-RateLimit-Reset", tt.reset)
			l.Observe(h)
			_, _, resetAt := l.Snapshot()
			tt.check(t, resetAt)
		})
	}
}

func TestLimiter_AcquireBlocksUntilReset(t *testing.T) {
	l := NewLimiter("venue", LimiterConfig{DefaultLimit: 1, DefaultWindow: time.Hour}, testLogger())

	// Venue announces an exhausted window that resets in 80ms.
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "0.08")
	l.Observe(h)

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if waited := time.Since(start); waited < 70*time.Millisecond {
		t.Errorf("Acquire returned after %v, want it to block until the window reset", waited)
	}
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := NewLimiter("venue", LimiterConfig{DefaultLimit: 1, DefaultWindow: time.Hour}, testLogger())

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "3600")
	l.Observe(h)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire returned nil, want context error")
	}
}

func TestLimiter_HeaderlessVenueUsesDefaults(t *testing.T) {
	l := NewLimiter("venue", LimiterConfig{DefaultLimit: 3, DefaultWindow: 50 * time.Millisecond}, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	// Fourth call waits for the default window to roll over.
	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("expected the fourth acquire to wait for the default window")
	}

	// Responses without rate headers must not disturb the tracked state.
	l.Observe(http.Header{})
	_, limit, _ := l.Snapshot()
	if limit != 3 {
		t.Errorf("limit = %d, want untouched default 3", limit)
	}
}
