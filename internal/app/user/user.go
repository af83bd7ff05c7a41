/*
Package user contains core data structures and logic related to chat participants.

This file defines the User struct, the registry's record of one connected
participant: registered nickname, announced public key, activity tracking, and
the per-user replay and rate structures that live and die with the entry.
*/
package user

import (
	"time"
)

// MaxNicknameLen is the maximum accepted nickname length, enforced before registration.
const MaxNicknameLen = 32

// User represents one registered chat participant. An entry is created when a
// handshake completes, mutated on every send and receive, and destroyed at
// session cleanup, taking its replay and rate state with it. Reconnects under
// the same nickname get a brand-new entry.
type User struct {
	// Nickname is the collision-free name assigned at registration.
	Nickname string

	// Key is the user's PEM-encoded RSA public key. It may be replaced when
	// the owning session sends a KEY re-announcement; the server never
	// substitutes key material on the user's behalf.
	Key string

	// LastActivity is the time of the most recently received packet.
	LastActivity time.Time

	// Replay tracks recently seen nonces for this sender.
	Replay *ReplayGuard

	// Rate tracks recent message timestamps for the sliding-window ceiling.
	Rate *RateWindow
}

// New creates a registry entry with fresh replay and rate state.
func New(nickname, key string, rateLimit int) *User {
	return &User{
		Nickname:     nickname,
		Key:          key,
		LastActivity: time.Now(),
		Replay:       NewReplayGuard(ReplayWindow, MaxTrackedNonces),
		Rate:         NewRateWindow(rateLimit, RateInterval),
	}
}

// Touch records packet activity from this user.
func (u *User) Touch() {
	u.LastActivity = time.Now()
}

// ValidNickname reports whether a requested nickname is acceptable:
// nonblank, ASCII-alphanumeric only, and within the length bound.
func ValidNickname(nickname string) bool {
	if nickname == "" || len(nickname) > MaxNicknameLen {
		return false
	}

	for _, r := range nickname {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}

	return true
}
