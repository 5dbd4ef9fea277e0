package crawler

import (
	"context"
	"time"
)

// LinearBackoff waits base × attempt between attempts (attempt starts at 1).
type LinearBackoff struct {
	base time.Duration
}

// NewLinearBackoff builds a policy; a non-positive base disables waiting.
func NewLinearBackoff(base time.Duration) LinearBackoff {
	return LinearBackoff{base: base}
}

// Delay returns the wait after the given 1-based attempt.
func (p LinearBackoff) Delay(attempt int) time.Duration {
	if p.base <= 0 || attempt <= 0 {
		return 0
	}
	return p.base * time.Duration(attempt)
}

// Retryable reports whether err is worth another attempt under ctx. Only the
// caller's own context ends retries: a relay's client timeout also matches
// context.DeadlineExceeded and must not.
func Retryable(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil
}
