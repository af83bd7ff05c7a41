/*
Package chat contains the core logic of the chat service: the connection
session state machine, the membership registry, and the message router.

This file defines the Registry, the single process-wide table of connected
users. Every mutation goes through registry methods guarded by one mutex, so
the nickname-to-session mapping is never read or written torn. Critical
sections are short and synchronous; no I/O happens under the lock.
*/
package chat

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"beatrice/internal/app/user"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/pkg/randx"
	"beatrice/internal/protocol"
)

// maxSuffixAttempts bounds how many random suffixes are tried before a
// colliding nickname fails the connection outright.
const maxSuffixAttempts = 5

// Registry is the process-wide, lock-guarded table of connected users.
// It is created at server start and torn down at shutdown.
type Registry struct {
	// mu protects concurrent access to the sessions map.
	mu sync.RWMutex

	// sessions maps assigned nickname to the owning session.
	sessions map[string]*Session

	// rateLimit is the per-user message ceiling applied to new entries.
	rateLimit int

	// structured logger with Registry context.
	logger zerolog.Logger
}

// NewRegistry constructs an empty registry. rateLimit is the number of
// messages a user may send per rate window.
func NewRegistry(rateLimit int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		rateLimit: rateLimit,
		logger:    logx.Logger().With().Str("component", "Registry").Logger(),
	}
}

// Register inserts a new user under a collision-free nickname and binds it to
// the given session. If the requested nickname is taken, a random three-digit
// suffix is appended and retried a bounded number of times before giving up.
// It returns the assigned nickname.
func (r *Registry) Register(requested, key string, s *Session) (string, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assigned := requested

	if _, taken := r.sessions[assigned]; taken {
		found := false
		for attempt := 0; attempt < maxSuffixAttempts; attempt++ {
			suffix, err := randx.NicknameSuffix()
			if err != nil {
				r.logger.Error().Err(err).Msg("Suffix generation failed during registration.")
				return "", errs.NewError(errs.ErrNicknameExhausted)
			}

			candidate := fmt.Sprintf("%s#%d", requested, suffix)
			if _, taken := r.sessions[candidate]; !taken {
				assigned = candidate
				found = true
				break
			}
		}
		if !found {
			r.logger.Warn().
				Str("nickname", requested).
				Int("attempts", maxSuffixAttempts).
				Msg("No collision-free nickname variant available.")
			return "", errs.NewError(errs.ErrNicknameExhausted)
		}
	}

	s.user = user.New(assigned, key, r.rateLimit)
	r.sessions[assigned] = s

	r.logger.Info().
		Str("nickname", assigned).
		Int("total_users", len(r.sessions)).
		Msg("User registered.")

	return assigned, nil
}

// Remove deletes the entry for nickname, but only if it is still owned by the
// given session. The guard keeps a stale session's cleanup from evicting a
// fresh connection that re-registered the same name. It reports whether an
// entry was actually removed.
func (r *Registry) Remove(nickname string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[nickname]
	if !ok || current != s {
		return false
	}

	delete(r.sessions, nickname)

	r.logger.Info().
		Str("nickname", nickname).
		Int("total_users", len(r.sessions)).
		Msg("User deregistered.")

	return true
}

// Lookup returns the session registered under nickname, or nil.
func (r *Registry) Lookup(nickname string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[nickname]
}

// UpdateKey replaces the stored public key for nickname, but only when the
// request comes from the owning session. Other sessions can never substitute
// a user's cipher material.
func (r *Registry) UpdateKey(nickname string, s *Session, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[nickname]
	if !ok || current != s {
		return false
	}

	current.user.Key = key
	return true
}

// Snapshot returns the directory entries of every registered user except the
// excluded nickname, for DIR packets.
func (r *Registry) Snapshot(exclude string) []protocol.DirectoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]protocol.DirectoryEntry, 0, len(r.sessions))
	for nickname, s := range r.sessions {
		if nickname == exclude {
			continue
		}
		entries = append(entries, protocol.DirectoryEntry{
			Nickname: nickname,
			Key:      s.user.Key,
		})
	}

	return entries
}

// Sessions returns a snapshot of every registered session except the excluded
// nickname. Fan-out always iterates such a snapshot, so a join or leave racing
// a broadcast can never corrupt the iteration.
func (r *Registry) Sessions(exclude string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for nickname, s := range r.sessions {
		if nickname == exclude {
			continue
		}
		sessions = append(sessions, s)
	}

	return sessions
}

// Len reports the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// CloseAll closes every registered session's connection, driving each session
// through its normal cleanup path. Used at server shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions("") {
		s.Close()
	}
}
