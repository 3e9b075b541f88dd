package dispatcher

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		BaseDelay:   time.Minute,
		MaxDelay:    time.Hour,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

func TestComputeBackoffDoublesPerAttempt(t *testing.T) {
	cfg := Config{BaseDelay: time.Minute, MaxDelay: time.Hour, Jitter: 0}

	for attempt, want := range map[int]time.Duration{
		1: time.Minute,
		2: 2 * time.Minute,
		3: 4 * time.Minute,
		4: 8 * time.Minute,
	} {
		if got := computeBackoff(attempt, cfg); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestComputeBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Minute, MaxDelay: 5 * time.Minute, Jitter: 0}

	if got := computeBackoff(10, cfg); got != 5*time.Minute {
		t.Fatalf("expected capped at 5m, got %v", got)
	}
}

func TestComputeBackoffStaysWithinJitterBounds(t *testing.T) {
	cfg := testConfig()
	for attempt := 1; attempt <= 6; attempt++ {
		base := float64(cfg.BaseDelay) * pow2(attempt-1)
		if base > float64(cfg.MaxDelay) {
			base = float64(cfg.MaxDelay)
		}
		lower := time.Duration(base * (1 - cfg.Jitter))
		upper := time.Duration(base * (1 + cfg.Jitter))

		for i := 0; i < 20; i++ {
			got := computeBackoff(attempt, cfg)
			if got < lower || got > upper {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lower, upper)
			}
		}
	}
}

func TestComputeBackoffTreatsSubOneAttemptAsFirst(t *testing.T) {
	cfg := Config{BaseDelay: time.Minute, MaxDelay: time.Hour, Jitter: 0}
	if got := computeBackoff(0, cfg); got != time.Minute {
		t.Fatalf("expected attempt<1 clamped to first attempt delay, got %v", got)
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
