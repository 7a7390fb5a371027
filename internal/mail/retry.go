package mail

import (
	"context"
	"time"
)

// Retry is an explicit retry policy: max attempts plus exponential base-2
// backoff between them. The zero value disables retries (single attempt).
type Retry struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func DefaultRetry() Retry {
	return Retry{MaxAttempts: 3, Base: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (r Retry) attempts() int {
	if r.MaxAttempts <= 0 {
		return 1
	}
	return r.MaxAttempts
}

// Delay returns the backoff to wait after the given 1-based attempt:
// Base, 2*Base, 4*Base, ... capped at MaxDelay.
func (r Retry) Delay(attempt int) time.Duration {
	base := r.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// Wait sleeps for the post-attempt backoff, honoring cancellation.
func (r Retry) Wait(ctx context.Context, attempt int) error {
	d := r.Delay(attempt)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
