package circuitbreaker

import (
	"testing"
	"time"

	"github.com/harborstay/channelcore/pkg/coreerr"
)

func fastConfig() Config {
	return Config{
		FailureThreshold: 3,
		Window:           time.Minute,
		OpenTimeout:      30 * time.Millisecond,
		MaxCooldown:      200 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}
}

func TestClosedAllowsCalls(t *testing.T) {
	b := New(fastConfig(), nil, nil, nil)

	done, err := b.Allow("airbnb")
	if err != nil {
		t.Fatalf("expected call allowed while closed, got %v", err)
	}
	done(true)

	if got := b.State("airbnb"); got != StateClosed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestTripsOpenAfterConsecutiveFailures(t *testing.T) {
	b := New(fastConfig(), nil, nil, nil)

	for i := 0; i < 3; i++ {
		done, err := b.Allow("airbnb")
		if err != nil {
			t.Fatalf("call %d: expected allowed before trip, got %v", i, err)
		}
		done(false)
	}

	if got := b.State("airbnb"); got != StateOpen {
		t.Fatalf("expected open after threshold failures, got %v", got)
	}

	if _, err := b.Allow("airbnb"); coreerr.CodeOf(err) != coreerr.CodeCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestHalfOpenAfterCooldownAndClosesOnSuccess(t *testing.T) {
	cfg := fastConfig()
	b := New(cfg, nil, nil, nil)

	for i := 0; i < int(cfg.FailureThreshold); i++ {
		done, _ := b.Allow("airbnb")
		done(false)
	}
	if got := b.State("airbnb"); got != StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)

	done, err := b.Allow("airbnb")
	if err != nil {
		t.Fatalf("expected one probe allowed in half-open, got %v", err)
	}
	done(true)

	if got := b.State("airbnb"); got != StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", got)
	}
}

func TestHalfOpenProbeFailureReopensWithExtendedCooldown(t *testing.T) {
	cfg := fastConfig()
	b := New(cfg, nil, nil, nil)

	for i := 0; i < int(cfg.FailureThreshold); i++ {
		done, _ := b.Allow("airbnb")
		done(false)
	}
	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)

	done, err := b.Allow("airbnb")
	if err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}
	done(false)

	if got := b.State("airbnb"); got != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", got)
	}

	// Immediately after the base OpenTimeout (but before the extended
	// exponential cooldown), calls must still be refused.
	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)
	if _, err := b.Allow("airbnb"); err == nil {
		t.Fatal("expected extended cooldown to still be blocking calls")
	}
}

func TestTripAuthFailureForcesOpenImmediately(t *testing.T) {
	b := New(fastConfig(), nil, nil, nil)

	b.TripAuthFailure("expedia", 50*time.Millisecond)

	if got := b.State("expedia"); got != StateOpen {
		t.Fatalf("expected forced open, got %v", got)
	}
	if _, err := b.Allow("expedia"); coreerr.CodeOf(err) != coreerr.CodeCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestOnlyOneProbeInFlightDuringHalfOpen(t *testing.T) {
	cfg := fastConfig()
	cfg.HalfOpenMaxCalls = 1
	b := New(cfg, nil, nil, nil)

	for i := 0; i < int(cfg.FailureThreshold); i++ {
		done, _ := b.Allow("airbnb")
		done(false)
	}
	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)

	_, err1 := b.Allow("airbnb")
	_, err2 := b.Allow("airbnb")
	if err1 != nil {
		t.Fatalf("expected first probe allowed, got %v", err1)
	}
	if coreerr.CodeOf(err2) != coreerr.CodeCircuitOpen {
		t.Fatalf("expected second concurrent probe refused, got %v", err2)
	}
}

func TestTransitionsObserved(t *testing.T) {
	var transitions []Transition
	b := New(fastConfig(), nil, nil, func(tr Transition) {
		transitions = append(transitions, tr)
	})

	for i := 0; i < 3; i++ {
		done, _ := b.Allow("airbnb")
		done(false)
	}

	if len(transitions) == 0 {
		t.Fatal("expected at least one transition event")
	}
	last := transitions[len(transitions)-1]
	if last.From != StateClosed || last.To != StateOpen {
		t.Fatalf("expected closed->open transition, got %v->%v", last.From, last.To)
	}
}
