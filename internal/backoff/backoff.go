// Package backoff computes capped exponential delays for reconnect and
// message retry scheduling.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes an exponential backoff.
//
// Attempt n (1-indexed) waits min(Base * 2^(n-1), Max). When Jitter is
// positive the delay is scaled by a random factor in [1-Jitter, 1+Jitter]
// and then clamped to Max again.
type Policy struct {
	Base   time.Duration
	Max    time.Duration // 0 = uncapped
	Jitter float64       // 0 disables

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if p.Max > 0 && d >= p.Max {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		factor := 1 + p.Jitter*(2*r()-1)
		d = time.Duration(float64(d) * factor)
		if p.Max > 0 && d > p.Max {
			d = p.Max
		}
	}

	return d
}
