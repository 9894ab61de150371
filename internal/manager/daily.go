package manager

import (
	"sync"
	"time"
)

// DailyTracker accumulates realized P&L percent for the current UTC day.
// The gate reads it to enforce the daily loss limit; the counter resets
// on the first touch after midnight.
type DailyTracker struct {
	mu       sync.Mutex
	day      string
	realized float64
	now      func() time.Time
}

func NewDailyTracker() *DailyTracker {
	return &DailyTracker{now: time.Now}
}

func (t *DailyTracker) rollover() {
	today := t.now().UTC().Format("2006-01-02")
	if t.day != today {
		t.day = today
		t.realized = 0
	}
}

// Add records a realized P&L contribution, in percent.
func (t *DailyTracker) Add(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.realized += percent
}

// Value returns the day's accumulated realized P&L percent.
func (t *DailyTracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.realized
}
