package channel

import (
	"math"
	"math/rand"
	"time"
)

// reconnector computes capped exponential backoff with jitter. The
// attempt counter resets after the connection has held for a minute,
// so a flaky link keeps retrying fast while a dead one backs off.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector() *reconnector {
	return &reconnector{
		baseDelay: 1 * time.Second,
		maxDelay:  30 * time.Second,
	}
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
