/*
Package user contains core data structures and logic related to chat participants.

This file defines the RateWindow, the sliding-window message-count cap applied
per user. Timestamps outside the window are pruned lazily on each check, so no
background task is needed and the structure vanishes with the User entry.
*/
package user

import (
	"sync"
	"time"
)

// RateInterval is the span of the sliding rate window.
const RateInterval = 60 * time.Second

// RateWindow counts messages inside a sliding time window.
type RateWindow struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	stamps   []time.Time
}

// NewRateWindow creates a window allowing limit messages per interval.
func NewRateWindow(limit int, interval time.Duration) *RateWindow {
	return &RateWindow{
		limit:    limit,
		interval: interval,
		stamps:   make([]time.Time, 0, limit),
	}
}

// Allow records one message attempt at the given time and reports whether it
// fits under the ceiling. Rejected attempts are not recorded, so a throttled
// sender recovers as soon as older messages age out of the window.
func (w *RateWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.interval)

	kept := w.stamps[:0]
	for _, at := range w.stamps {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.limit {
		return false
	}

	w.stamps = append(w.stamps, now)
	return true
}

// Count reports the number of messages currently inside the window.
func (w *RateWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.interval)
	n := 0
	for _, at := range w.stamps {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}
