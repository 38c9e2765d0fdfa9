package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// remainingHeaders and limitHeaders list the header spellings observed
// across venue APIs. Lookup is case-insensitive via http.Header.Get, but
// some venues use a "RateLimit-" prefix while others use "X-RateLimit-".
var (
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining", "X-Rate-Limit-Remaining"}
	limitHeaders     = []string{"X-RateLimit-Limit", "RateLimit-Limit", "X-Rate-Limit-Limit"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset", "X-Rate-Limit-Reset"}
)

// lowWaterFraction is the remaining-quota fraction below which the limiter
// starts logging instead of silently queueing.
const lowWaterFraction = 0.2

// LimiterConfig tunes a Limiter. Defaults describe the window used when a
// venue omits rate-limit headers entirely.
type LimiterConfig struct {
	DefaultLimit  int
	DefaultWindow time.Duration
}

func (c *LimiterConfig) withDefaults() {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = time.Second
	}
}

// Limiter is a per-venue adaptive throttle. Acquire consumes one unit of
// quota, queueing the caller until the window resets when none remains.
// Observe refreshes the tracked quota from a response's headers so the
// limiter follows the venue's actual announced budget rather than a guessed
// static rate.
type Limiter struct {
	name   string
	cfg    LimiterConfig
	logger *slog.Logger

	mu        sync.Mutex
	remaining int
	limit     int
	resetAt   time.Time
}

// NewLimiter creates a Limiter for the named venue, seeded with the default
// window until the first Observe.
func NewLimiter(name string, cfg LimiterConfig, logger *slog.Logger) *Limiter {
	cfg.withDefaults()
	return &Limiter{
		name:      name,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "limiter"), slog.String("venue", name)),
		remaining: cfg.DefaultLimit,
		limit:     cfg.DefaultLimit,
		resetAt:   time.Now().Add(cfg.DefaultWindow),
	}
}

// Acquire blocks until one unit of quota is available or the context is
// cancelled. Callers are never dropped: a request queued behind an exhausted
// window waits for the reset and then proceeds.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		// Window rolled over: refill to the last announced limit.
		if !now.Before(l.resetAt) {
			l.remaining = l.limit
			l.resetAt = now.Add(l.cfg.DefaultWindow)
		}

		if l.remaining > 0 {
			l.remaining--
			if l.limit > 0 && float64(l.remaining) < lowWaterFraction*float64(l.limit) {
				l.logger.Warn("rate limit quota low",
					slog.Int("remaining", l.remaining),
					slog.Int("limit", l.limit),
					slog.Time("reset_at", l.resetAt),
				)
			}
			l.mu.Unlock()
			return nil
		}

		wait := time.Until(l.resetAt)
		l.mu.Unlock()

		l.logger.Info("rate limit exhausted, queueing",
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("resilience: rate limit wait %s: %w", l.name, ctx.Err())
		case <-timer.C:
		}
	}
}

// Observe updates the tracked quota from a response's rate-limit headers.
// Responses without recognizable headers leave the state untouched, so
// header-less venues keep running on the configured default window.
func (l *Limiter) Observe(h http.Header) {
	remaining, okRem := firstIntHeader(h, remainingHeaders)
	if !okRem {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.remaining = remaining
	if limit, ok := firstIntHeader(h, limitHeaders); ok && limit > 0 {
		l.limit = limit
	}
	if resetAt, ok := parseReset(h); ok {
		l.resetAt = resetAt
	}
}

// Snapshot returns the current (remaining, limit, resetAt) for logging and
// tests.
func (l *Limiter) Snapshot() (remaining, limit int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, l.limit, l.resetAt
}

// firstIntHeader returns the first parseable integer among the candidate
// header names.
func firstIntHeader(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		// Some venues send floats ("0.0") for counters.
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

// parseReset handles the reset header's two common encodings: an absolute
// Unix timestamp (seconds or milliseconds) and a relative delta in seconds.
// Values small enough to be implausible as timestamps are treated as deltas.
func parseReset(h http.Header) (time.Time, bool) {
	for _, name := range resetHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			continue
		}

		now := time.Now()
		switch {
		case f > 1e12: // epoch milliseconds
			return time.UnixMilli(int64(f)), true
		case f > 1e9: // epoch seconds
			return time.Unix(int64(f), 0), true
		default: // relative seconds
			return now.Add(time.Duration(f * float64(time.Second))), true
		}
	}
	return time.Time{}, false
}
