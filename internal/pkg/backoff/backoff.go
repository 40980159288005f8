// Package backoff implements exponential backoff with jitter and a
// context-aware retry loop for remote I/O (mail fetch, LLM calls).
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	Base        time.Duration // delay before the first retry
	Factor      float64       // multiplier per attempt
	Cap         time.Duration // maximum single delay
	MaxAttempts int           // total attempts including the first
	Jitter      float64       // fraction of the delay randomized, 0..1
}

// MailFetch is the schedule for mail-source page fetches:
// 1s base, factor 2, 30s cap, 5 attempts.
func MailFetch() Policy {
	return Policy{Base: time.Second, Factor: 2, Cap: 30 * time.Second, MaxAttempts: 5, Jitter: 0.2}
}

// LLMCall is the schedule for analyst LLM calls:
// 2s base, factor 2, 60s cap, 3 attempts.
func LLMCall() Policy {
	return Policy{Base: 2 * time.Second, Factor: 2, Cap: 60 * time.Second, MaxAttempts: 3, Jitter: 0.2}
}

// Delay returns the backoff delay before retry attempt n (n >= 1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(n-1))
	if cap := float64(p.Cap); p.Cap > 0 && d > cap {
		d = cap
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Permanent wraps an error so Retry stops immediately instead of retrying.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Retry runs fn until it succeeds, returns a Permanent error, the policy's
// attempts are exhausted, or the context is cancelled. The last error is
// returned on failure.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if perm, ok := lastErr.(*Permanent); ok {
			return perm.Err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
