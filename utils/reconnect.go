package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
)

type ReconnectStrategy interface {
	backoff.BackOff
	Attempts() int
}

var _ ReconnectStrategy = (*ExponentialBackoff)(nil)

// ExponentialBackoff yields min(base*2^n, max) for attempt n = 1..maxAttempts,
// then backoff.Stop. It is not safe for concurrent use.
type ExponentialBackoff struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempts    int
}

func NewExponentialBackoff(base, max time.Duration, maxAttempts int) *ExponentialBackoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &ExponentialBackoff{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
	}
}

func (e *ExponentialBackoff) NextBackOff() time.Duration {
	if e.attempts >= e.maxAttempts {
		return backoff.Stop
	}
	e.attempts++
	return e.Delay(e.attempts)
}

// Delay is the wait before the given attempt, independent of state.
func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := e.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= e.maxDelay {
			return e.maxDelay
		}
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.attempts = 0
}

func (e *ExponentialBackoff) Attempts() int {
	return e.attempts
}
