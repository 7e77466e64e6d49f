// Package ratelimit spaces calls made with one credential so that consecutive
// permits are at least a fixed interval apart.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/activity-harvester/internal/metrics"
)

// Spacer grants permits no closer together than its interval. It holds no
// lock shared with other Spacers, so credentials never block each other.
type Spacer struct {
	label    string
	interval time.Duration
	limiter  *rate.Limiter
}

// NewSpacer creates a Spacer. A non-positive interval disables spacing.
func NewSpacer(label string, interval time.Duration) *Spacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Spacer{
		label:    label,
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Interval returns the minimum spacing between permits.
func (s *Spacer) Interval() time.Duration {
	return s.interval
}

// Wait blocks until the next permit is available or ctx ends. It only fails
// once ctx is actually done, never early because the permit falls after
// the deadline; the reservation is returned in that case.
func (s *Spacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	r := s.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
	}
	// Measure the whole call; an immediately available token shows up as ~0.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(s.label, waited)
	}
	return nil
}
