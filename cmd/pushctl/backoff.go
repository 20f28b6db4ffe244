package main

import (
	"math/rand"
	"time"

	"github.com/Zereker/push/internal/config"
)

// backoff computes reconnect delays. Jitter spreads reconnects of many
// clients after a server restart.
type backoff struct {
	min, max time.Duration
	factor   float64
	jitter   float64
	rng      *rand.Rand
}

func newBackoff(cfg config.ReconnectConfig) *backoff {
	return &backoff{
		min:    cfg.Min,
		max:    cfg.Max,
		factor: cfg.Factor,
		jitter: 0.2,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the delay before attempt (1-based).
func (b *backoff) next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	factor := b.factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := b.min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > b.max {
			wait = b.max
			break
		}
		wait = next
	}

	if b.jitter <= 0 || b.rng == nil {
		return wait
	}
	delta := float64(wait) * b.jitter
	return wait - time.Duration(delta) + time.Duration(b.rng.Float64()*2*delta)
}
