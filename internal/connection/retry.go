package connection

import "time"

// backoffFactor is the growth applied per failed attempt.
const backoffFactor = 1.5

// RetryPolicy decides how long to wait after a failed connect attempt.
// attempt counts failed attempts so far, starting at 1. Returning false
// stops retrying.
type RetryPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

// FixedDelay waits the same Delay after every failure.
// MaxAttempts of 0 retries forever.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// Next implements RetryPolicy.
func (p FixedDelay) Next(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialBackoff grows the delay by half on every failure, starting
// at Initial and capped at Max. MaxAttempts of 0 retries forever.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Next implements RetryPolicy.
func (p ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}

	delay := p.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * backoffFactor)
		if p.Max > 0 && delay >= p.Max {
			return p.Max, true
		}
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay, true
}
