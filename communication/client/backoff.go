package client

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
)

const (
	errorPenalty = 1.5
	jitterRatio  = 0.3
)

// backoff returns the delay before retry number attempt (starting at 1). The delay doubles
// per attempt up to limit, grows by errorPenalty after an error, and gets up to 30% jitter.
func backoff(attempt int, base, limit time.Duration, errored bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if limit > 0 && delay > float64(limit) {
		delay = float64(limit)
	}
	if errored {
		delay *= errorPenalty
	}
	jitter := rand.Float64() * jitterRatio * delay
	return time.Duration(delay + jitter)
}
