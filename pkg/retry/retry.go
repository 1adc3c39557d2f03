// Package retry implements attempt-counted exponential backoff with a two-tier
// budget: errors classified as rate limiting get a larger attempt budget than
// other transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy describes how an operation is retried. The zero value performs a single
// attempt.
type Policy struct {
	// MaxAttempts is the total attempt budget for ordinary errors.
	MaxAttempts int
	// RateLimitAttempts is the total attempt budget once the latest error is a
	// rate-limit error. Zero means MaxAttempts.
	RateLimitAttempts int
	// InitialBackoff is the delay after the first failure; it doubles afterwards.
	InitialBackoff time.Duration
	// MaxBackoff caps a single delay. Zero means uncapped.
	MaxBackoff time.Duration
	// IsRateLimit classifies errors. Nil means IsRateLimitError.
	IsRateLimit func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx is done. Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Embedding is the policy used around embedding provider calls: 3 attempts, or 5
// for rate-limit errors, starting at one second.
func Embedding() Policy {
	return Policy{
		MaxAttempts:       3,
		RateLimitAttempts: 5,
		InitialBackoff:    time.Second,
	}
}

// Bootstrap is the policy used when creating the vector collection at startup.
func Bootstrap() Policy {
	return Policy{
		MaxAttempts:    6,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// permanentError stops retrying immediately.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, the applicable budget is exhausted, or ctx is
// done. The last error from op is returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	isRL := p.IsRateLimit
	if isRL == nil {
		isRL = IsRateLimitError
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		budget := p.MaxAttempts
		if isRL(err) && p.RateLimitAttempts > 0 {
			budget = p.RateLimitAttempts
		}
		if attempt >= budget {
			return err
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%w (last error: %v)", serr, err)
		}
	}
}

// delay returns InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (p Policy) delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var rateLimitMarkers = []string{"rate limit", "429", "quota exceeded", "resource exhausted"}

// IsRateLimitError reports whether err looks like provider throttling, either by
// an HTTP status accessor returning 429 or by its message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var sc interface{ HTTPCode() int }
	if errors.As(err, &sc) && sc.HTTPCode() == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
