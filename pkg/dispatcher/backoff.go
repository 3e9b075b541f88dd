package dispatcher

import (
	"math"
	"math/rand"
	"time"
)

// computeBackoff implements spec §4.8's retry schedule:
// delay = min(cap, base * 2^(attempt-1)) * (1 + U[-jitter, +jitter]),
// attempt is 1-indexed (the attempt about to be retried after).
func computeBackoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(raw, float64(cfg.MaxDelay))

	jitter := 1 + (rand.Float64()*2-1)*cfg.Jitter
	return time.Duration(capped * jitter)
}
