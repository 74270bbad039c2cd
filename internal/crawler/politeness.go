package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// DelayRange is an inclusive [Min, Max] window for randomized waits.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Next draws a uniformly random whole-millisecond duration in the range.
func (r DelayRange) Next() time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return 0
	}
	if lo < 0 {
		lo = 0
	}
	span := (hi - lo).Milliseconds()
	if span <= 0 {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(span+1))
	if err != nil {
		return lo + time.Duration(span/2)*time.Millisecond
	}
	return lo + time.Duration(n.Int64())*time.Millisecond
}

type timerSleeper struct{}

// Sleep blocks for delay unless ctx finishes first.
func (timerSleeper) Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
