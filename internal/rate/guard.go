package rate

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitError is returned when a call is refused.
type RateLimitError struct {
	Provider string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited", e.Provider)
	}
	return fmt.Sprintf("%s rate limited (retry at %s)", e.Provider, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	RetryAt time.Time
}

type bucket struct {
	capacity int
	window   time.Duration
	tokens   float64
	last     time.Time
}

// refill tops the bucket up for the time since last and reports when the
// next token becomes available.
func (b *bucket) refill(now time.Time) {
	if !b.last.IsZero() {
		elapsed := now.Sub(b.last).Seconds()
		b.tokens = min(float64(b.capacity), b.tokens+elapsed*b.rate())
	}
	b.last = now
}

func (b *bucket) rate() float64 {
	return float64(b.capacity) / b.window.Seconds()
}

func (b *bucket) nextToken(now time.Time) time.Time {
	missing := 1 - b.tokens
	return now.Add(time.Duration(missing / b.rate() * float64(time.Second)))
}

// Guard enforces every budget of a declaration. A call consumes a token from
// each window only when all windows have one.
type Guard struct {
	decl Declaration

	mu      sync.Mutex
	buckets map[Window]*bucket
}

func NewGuard(decl Declaration) *Guard {
	buckets := make(map[Window]*bucket, len(decl.Limits()))
	for window, limit := range decl.Limits() {
		if limit <= 0 {
			continue
		}
		buckets[window] = &bucket{
			capacity: limit,
			window:   window.Duration(),
			tokens:   float64(limit),
		}
	}
	return &Guard{decl: decl, buckets: buckets}
}

func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	var retryAt time.Time
	for _, b := range g.buckets {
		b.refill(now)
		if b.tokens < 1 {
			if next := b.nextToken(now); next.After(retryAt) {
				retryAt = next
			}
		}
	}
	if !retryAt.IsZero() {
		blockedTotal.WithLabelValues(g.decl.ProviderName()).Inc()
		return Decision{Allowed: false, RetryAt: retryAt}
	}

	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// Allow is ShouldCall returning a RateLimitError when refused.
func (g *Guard) Allow(now time.Time) error {
	decision := g.ShouldCall(now)
	if decision.Allowed {
		return nil
	}
	return RateLimitError{Provider: g.decl.ProviderName(), RetryAt: decision.RetryAt}
}
