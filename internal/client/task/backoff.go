package task

import (
	"math"
	"math/rand"
	"time"
)

// restartBackoff returns the delay before restart attempt n (1-based):
// base * 2^(n-1), capped at max, with ±25% jitter.
func restartBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > max || delay <= 0 {
		delay = max
	}
	return jitter(delay, 0.25)
}

func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	r := rand.Float64() * fraction
	return time.Duration(float64(d) * (1.0 + r*2.0 - fraction))
}
