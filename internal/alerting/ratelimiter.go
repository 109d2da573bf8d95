package alerting

import (
	"sync"
	"time"
)

// RateLimitState is a point-in-time view of the limiter's windows.
type RateLimitState struct {
	HourCount int
	HourStart time.Time
	DayCount  int
	DayStart  time.Time
}

// RateLimiter caps how many notifications go out per rolling hour, with an
// optional daily cap on top. All state changes happen under one mutex so a
// check-then-record sequence never races another sender.
type RateLimiter struct {
	mu sync.Mutex

	maxPerHour int
	maxPerDay  int

	hourCount int
	hourStart time.Time
	dayCount  int
	dayStart  time.Time
}

// NewRateLimiter builds a limiter. A non-positive limit disables that
// window's cap.
func NewRateLimiter(maxPerHour, maxPerDay int) *RateLimiter {
	return &RateLimiter{maxPerHour: maxPerHour, maxPerDay: maxPerDay}
}

// SetLimits applies runtime-updated caps.
func (l *RateLimiter) SetLimits(maxPerHour, maxPerDay int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxPerHour = maxPerHour
	l.maxPerDay = maxPerDay
}

// Allow reports whether another notification fits the current windows. It
// rolls expired windows first, so a stale counter can never deny a send.
func (l *RateLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(now)

	if l.maxPerHour > 0 && l.hourCount >= l.maxPerHour {
		return false
	}
	if l.maxPerDay > 0 && l.dayCount >= l.maxPerDay {
		return false
	}
	return true
}

// RecordSent consumes budget for one delivered notification. Callers must
// only invoke it after the transport confirmed the send.
func (l *RateLimiter) RecordSent(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(now)
	l.hourCount++
	l.dayCount++
}

// State returns the counters after rolling expired windows.
func (l *RateLimiter) State(now time.Time) RateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(now)
	return RateLimitState{
		HourCount: l.hourCount,
		HourStart: l.hourStart,
		DayCount:  l.dayCount,
		DayStart:  l.dayStart,
	}
}

func (l *RateLimiter) roll(now time.Time) {
	if l.hourStart.IsZero() || now.Sub(l.hourStart) >= time.Hour {
		l.hourCount = 0
		l.hourStart = now
	}
	if l.dayStart.IsZero() || now.Sub(l.dayStart) >= 24*time.Hour {
		l.dayCount = 0
		l.dayStart = now
	}
}
