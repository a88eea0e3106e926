package irp

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
)

// RetryPolicy controls how transient failures are retried.
// delay(n) = min(InitialDelay * Multiplier^n, MaxDelay) + rand[0, MaxJitter).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxJitter    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		MaxJitter:    250 * time.Millisecond,
	}
}

// Backoff is the delay before retry number attempt+1, without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Delay adds jitter to Backoff and honours a server Retry-After up to MaxDelay.
func (p RetryPolicy) Delay(attempt int, lastErr error) time.Duration {
	d := p.Backoff(attempt)
	var apiErr *ApiError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > d {
		d = min(apiErr.RetryAfter, p.MaxDelay)
	}
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.MaxJitter)))
	}
	return d
}

// totalBackoff is the upper bound of all delays between maxAttempts attempts.
func (p RetryPolicy) totalBackoff() time.Duration {
	var total time.Duration
	for a := 0; a < p.MaxAttempts-1; a++ {
		total += p.Backoff(a) + p.MaxJitter
	}
	return total
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
