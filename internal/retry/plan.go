package retry

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Plan is the per-call retry schedule: exponential backoff with a cap and
// jitter, giving up after a fixed number of attempts. It holds no timers
// and makes no calls itself, so it can be stepped through in tests.
type Plan struct {
	maxAttempts int
	attempt     int
	backoff     retry.Backoff
}

// NewPlan builds a schedule for maxAttempts total attempts with delays
// base×2^(n-1) capped at max, ±10% jitter.
func NewPlan(maxAttempts int, base, max time.Duration) *Plan {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(max, b)
	b = retry.WithJitterPercent(10, b)
	return &Plan{maxAttempts: maxAttempts, backoff: b}
}

// Next records a failed attempt and returns the delay before the next
// one. The second return is false when the attempt budget is exhausted.
func (p *Plan) Next() (time.Duration, bool) {
	p.attempt++
	if p.attempt >= p.maxAttempts {
		return 0, false
	}
	delay, stop := p.backoff.Next()
	if stop {
		return 0, false
	}
	return delay, true
}

// Attempts returns the number of failed attempts recorded so far.
func (p *Plan) Attempts() int { return p.attempt }
