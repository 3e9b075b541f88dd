package alerting

import (
	"testing"
	"time"
)

func TestThrottleAllowsUpToLimit(t *testing.T) {
	th := NewThrottle(3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !th.Allow("airbnb:prop-1", now) {
			t.Fatalf("call %d: expected allowed within limit", i)
		}
	}
	if th.Allow("airbnb:prop-1", now) {
		t.Fatalf("expected the 4th call to be throttled")
	}
}

func TestThrottleResetsNextDay(t *testing.T) {
	th := NewThrottle(1)
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if !th.Allow("expedia:prop-2", day1) {
		t.Fatalf("expected first call allowed")
	}
	if th.Allow("expedia:prop-2", day1) {
		t.Fatalf("expected second call same day to be throttled")
	}
	if !th.Allow("expedia:prop-2", day2) {
		t.Fatalf("expected count to reset on the next day")
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	th := NewThrottle(1)
	now := time.Now()

	if !th.Allow("airbnb:prop-1", now) {
		t.Fatalf("expected first key allowed")
	}
	if !th.Allow("expedia:prop-1", now) {
		t.Fatalf("expected a distinct key to have its own budget")
	}
}
