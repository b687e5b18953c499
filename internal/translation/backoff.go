package translation

import (
	"math"
	"time"
)

// minDelay keeps a jittered delay from collapsing to zero
const minDelay = time.Millisecond

// nextBackoff doubles the nominal backoff, capped at ceiling
func nextBackoff(current, ceiling time.Duration) time.Duration {
	if current >= ceiling/2 {
		return ceiling
	}
	return current * 2
}

// jittered spreads nominal by ±spread using r in [0, 1) and clamps the result to ceiling
func jittered(nominal time.Duration, spread float64, ceiling time.Duration, r float64) time.Duration {
	factor := 1 + spread*(2*r-1)
	d := time.Duration(math.Round(float64(nominal) * factor))
	if d > ceiling {
		d = ceiling
	}
	if d < minDelay {
		d = minDelay
	}
	return d
}
