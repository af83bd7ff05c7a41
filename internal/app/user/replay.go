/*
Package user contains core data structures and logic related to chat participants.

This file defines the ReplayGuard, the per-sender record of recently seen
message nonces. Messages older than the window or carrying an already-seen
nonce are rejected before any routing happens. Entries are swept lazily on
access; nothing is persisted and nothing survives the owning User entry.
*/
package user

import (
	"sync"
	"time"
)

const (
	// ReplayWindow is how far in the past a message timestamp may lie, and how
	// long a seen nonce stays on record.
	ReplayWindow = 60 * time.Second

	// MaxTrackedNonces bounds the seen-nonce set per sender. The rate ceiling
	// keeps honest senders far below this; the bound only matters for a peer
	// spraying nonces faster than the sweep can retire them.
	MaxTrackedNonces = 4096
)

// ReplayVerdict is the outcome of a replay check.
type ReplayVerdict int

const (
	// ReplayOK means the message is fresh and its nonce is now recorded.
	ReplayOK ReplayVerdict = iota

	// ReplayStale means the timestamp is older than the window.
	ReplayStale

	// ReplayDuplicate means the (sender, nonce) pair was already seen within the window.
	ReplayDuplicate
)

// ReplayGuard tracks recently seen nonces for a single sender.
type ReplayGuard struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	seen   map[string]time.Time
}

// NewReplayGuard creates a guard with the given expiry window and size bound.
func NewReplayGuard(window time.Duration, max int) *ReplayGuard {
	return &ReplayGuard{
		window: window,
		max:    max,
		seen:   make(map[string]time.Time),
	}
}

// Check validates one message against the guard. A message passes when its
// timestamp is within the window and its nonce has not been seen; passing
// messages have their nonce recorded. Expired entries are pruned on each call.
func (g *ReplayGuard) Check(nonce string, sent time.Time, now time.Time) ReplayVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)

	for n, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, n)
		}
	}

	if sent.Before(cutoff) {
		return ReplayStale
	}

	if _, dup := g.seen[nonce]; dup {
		return ReplayDuplicate
	}

	if len(g.seen) >= g.max {
		// Saturated guard: treat further nonces as duplicates rather than
		// growing without bound.
		return ReplayDuplicate
	}

	g.seen[nonce] = now
	return ReplayOK
}

// Len reports the number of tracked nonces.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
