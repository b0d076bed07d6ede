// Package backoff computes retry delays that grow exponentially per attempt.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultInitial    = 100 * time.Millisecond
	defaultMax        = 5 * time.Second
	defaultMultiplier = 2.0
)

// Policy describes a retry schedule. The zero value is usable: 100ms doubling
// up to 5s, without jitter.
type Policy struct {
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // upper bound of any delay
	Multiplier float64       // growth factor per attempt
	Jitter     float64       // fraction in [0, 1) of random spread around the delay
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = defaultInitial
	}
	if p.Max <= 0 {
		p.Max = defaultMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before retry number attempt, counting from 1.
// Attempts below 1 are treated as the first retry.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) || math.IsInf(d, 0) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
		d = math.Min(d, float64(p.Max))
	}
	return time.Duration(d)
}

// Sleep waits Delay(attempt) or until ctx is done, whichever comes first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
