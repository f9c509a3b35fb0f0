package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetrySchedule is the exponential-with-cap, finite-retry backoff Connect
// takes for its dial retries. WARC downloads run their own backoff loop.
type RetrySchedule struct {
	b backoff.BackOff
}

// NewRetrySchedule builds a schedule starting at initial, doubling each
// step up to max, and giving up after maxElapsed total time or maxAttempts
// retries, whichever comes first.
func NewRetrySchedule(initial, max, maxElapsed time.Duration, maxAttempts int) *RetrySchedule {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = max
	eb.MaxElapsedTime = maxElapsed
	eb.Multiplier = 2

	var b backoff.BackOff = eb
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, uint64(maxAttempts))
	}
	return &RetrySchedule{b: b}
}

// Next returns the next delay and true, or false once the schedule is
// exhausted.
func (r *RetrySchedule) Next() (time.Duration, bool) {
	d := r.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Reset restarts the schedule from its initial interval.
func (r *RetrySchedule) Reset() { r.b.Reset() }
