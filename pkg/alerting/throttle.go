package alerting

import (
	"sync"
	"time"
)

// Throttle caps how many alerts a given key (typically property+channel)
// may raise per calendar day (spec §4.10 step 5: "threshold-based alert
// [...] default 5/day"), so a channel stuck flapping between two drift
// states doesn't page an operator every reconciliation pass.
type Throttle struct {
	mu    sync.Mutex
	limit int
	day   map[string]throttleEntry
}

type throttleEntry struct {
	date  string
	count int
}

// NewThrottle creates a Throttle allowing limit alerts per key per day.
func NewThrottle(limit int) *Throttle {
	return &Throttle{limit: limit, day: make(map[string]throttleEntry)}
}

// DefaultDailyLimit matches the operating point named in spec §4.10.
const DefaultDailyLimit = 5

// Allow reports whether key may raise another alert at now, incrementing
// its count if so. The count resets at UTC midnight.
func (t *Throttle) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := now.UTC().Format("2006-01-02")
	entry := t.day[key]
	if entry.date != today {
		entry = throttleEntry{date: today}
	}
	if entry.count >= t.limit {
		t.day[key] = entry
		return false
	}
	entry.count++
	t.day[key] = entry
	return true
}
