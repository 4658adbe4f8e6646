// Package backoff implements capped exponential backoff with jitter.
package backoff

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy computes jittered exponential delays. The delay for attempt n is
// half the capped exponential value plus a random jitter up to the other
// half, so repeated offenders never synchronize their retries.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// New builds a policy, falling back to sane defaults for zero values.
func New(base, maxDelay time.Duration) Policy {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return Policy{Base: base, Max: maxDelay}
}

// Delay returns the wait duration before attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.Base) * math.Pow(2, float64(attempt))
	if delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
