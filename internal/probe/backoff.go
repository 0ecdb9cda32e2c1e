package probe

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays after consecutive transient failures.
type Backoff struct {
	base time.Duration
	max  time.Duration
}

// NewBackoff builds a policy; a zero base disables backoff.
func NewBackoff(base, maxDelay time.Duration) Backoff {
	if maxDelay < base {
		maxDelay = base
	}
	return Backoff{base: base, max: maxDelay}
}

// Delay returns the wait before the next request after failures consecutive
// transient errors. The result lies in [d/2, d) where d = base*2^(failures-1)
// capped at max.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.base <= 0 {
		return 0
	}
	delay := float64(b.base) * math.Pow(2, float64(failures-1))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
