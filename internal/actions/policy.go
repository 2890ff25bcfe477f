// internal/actions/policy.go
package actions

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// maxBackoffShift keeps 2^n from overflowing a Duration.
const maxBackoffShift = 30

// JitterFunc returns a value in [0, d].
type JitterFunc func(d time.Duration) time.Duration

// FullJitter draws uniformly from [0, d].
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// computeRetryDelay is the wait before the attempt following the zero based
// attempt that just failed.
func computeRetryDelay(p *schemas.RetryPolicy, attempt int, jitter JitterFunc) time.Duration {
	if p == nil || p.IntervalMs <= 0 {
		return 0
	}
	base := time.Duration(p.IntervalMs) * time.Millisecond
	delay := base
	switch p.Backoff {
	case schemas.BackoffLinear:
		delay = base * time.Duration(attempt+1)
	case schemas.BackoffExp:
		shift := attempt
		if shift > maxBackoffShift {
			shift = maxBackoffShift
		}
		delay = base * time.Duration(int64(1)<<shift)
	}
	if p.MaxIntervalMs > 0 {
		if ceiling := time.Duration(p.MaxIntervalMs) * time.Millisecond; delay > ceiling {
			delay = ceiling
		}
	}
	if p.Jitter == schemas.JitterFull {
		if jitter == nil {
			jitter = FullJitter
		}
		delay = jitter(delay)
	}
	return delay
}

// shouldRetry applies the code filter. VALIDATION_ERROR is never retried, even
// when a retryOn list names it.
func shouldRetry(p *schemas.RetryPolicy, e *schemas.ActionError) bool {
	if p == nil || e == nil || e.Code == schemas.ErrCodeValidation {
		return false
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, code := range p.RetryOn {
		if code == e.Code {
			return true
		}
	}
	return false
}

// validatePolicy reports malformed policy fields.
func validatePolicy(p *schemas.ActionPolicy) []string {
	if p == nil {
		return nil
	}
	var errs []string
	if r := p.Retry; r != nil {
		if r.Retries < 0 {
			errs = append(errs, "policy.retry.retries must be >= 0")
		}
		if r.IntervalMs < 0 || r.MaxIntervalMs < 0 {
			errs = append(errs, "policy.retry intervals must be >= 0")
		}
		switch r.Backoff {
		case "", schemas.BackoffNone, schemas.BackoffLinear, schemas.BackoffExp:
		default:
			errs = append(errs, fmt.Sprintf("policy.retry.backoff %q is not supported", r.Backoff))
		}
		switch r.Jitter {
		case "", schemas.JitterNone, schemas.JitterFull:
		default:
			errs = append(errs, fmt.Sprintf("policy.retry.jitter %q is not supported", r.Jitter))
		}
		for _, code := range r.RetryOn {
			if !code.IsKnown() {
				errs = append(errs, fmt.Sprintf("policy.retry.retryOn has unknown code %q", code))
			}
		}
	}
	if t := p.Timeout; t != nil {
		if t.Ms < 0 {
			errs = append(errs, "policy.timeout.ms must be >= 0")
		}
		switch t.Scope {
		case "", schemas.TimeoutScopeAttempt, schemas.TimeoutScopeAction:
		default:
			errs = append(errs, fmt.Sprintf("policy.timeout.scope %q is not supported", t.Scope))
		}
	}
	return errs
}
