/*
Package chat contains the core logic of the chat service: the connection
session state machine, the membership registry, and the message router.

This file defines the Session struct, the per-connection lifecycle state
machine: Handshaking, Synchronising, Active, Closing, Closed. A session owns
one read loop and one write pump; cleanup runs exactly once no matter which
error path triggers it.
*/
package chat

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"beatrice/internal/app/user"
	"beatrice/internal/crypto"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/protocol"
	"beatrice/internal/transport"
)

const (
	// HandshakeTimeout bounds the wait for the first frame.
	HandshakeTimeout = 5 * time.Second

	// IdleTimeout bounds the wait for any subsequent frame. Expiry is treated
	// exactly like a disconnect.
	IdleTimeout = 5 * time.Minute

	// sendQueueSize is the per-session outbound frame buffer. A recipient that
	// cannot drain this queue is treated as a zombie connection and cleaned up.
	sendQueueSize = 256
)

// State is the lifecycle position of a session.
type State int32

const (
	// StateHandshaking covers the wait for a valid H packet.
	StateHandshaking State = iota

	// StateSynchronising covers the DIR push and J broadcast.
	StateSynchronising

	// StateActive covers the message loop.
	StateActive

	// StateClosing covers teardown in progress.
	StateClosing

	// StateClosed marks a fully cleaned-up session.
	StateClosed
)

// Session represents one client connection and drives it through its lifecycle.
type Session struct {
	// conn is the framed transport handle. Closing it unblocks both pumps.
	conn transport.Conn

	// registry and router are shared process-wide collaborators.
	registry *Registry
	router   *Router

	// user is set once the handshake completes and registration succeeds.
	user *user.User

	// send is the buffered outbound frame queue drained by the write pump.
	send chan []byte

	// state tracks lifecycle position; loaded and stored atomically.
	state atomic.Int32

	// pumpStarted records whether the write pump owns the connection close.
	pumpStarted atomic.Bool

	// closeOnce guarantees cleanup runs exactly once.
	closeOnce sync.Once

	// structured logger, rebound with the nickname after registration.
	logger zerolog.Logger
}

// NewSession wraps an accepted connection. Run must be called to start the lifecycle.
func NewSession(conn transport.Conn, registry *Registry, router *Router) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		router:   router,
		send:     make(chan []byte, sendQueueSize),
		logger: logx.Logger().With().
			Str("component", "Session").
			Str("remote_addr", conn.RemoteAddr()).
			Logger(),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Nickname returns the registered nickname, or "" before registration.
func (s *Session) Nickname() string {
	if s.user == nil {
		return ""
	}
	return s.user.Nickname
}

// Run drives the session through handshake, synchronisation, and the message
// loop, and always ends in cleanup. It blocks until the session is closed.
func (s *Session) Run() {
	defer s.cleanup()

	if !s.handshake() {
		return
	}

	s.pumpStarted.Store(true)
	go s.writePump()

	s.setState(StateSynchronising)
	if !s.synchronise() {
		return
	}

	s.setState(StateActive)
	s.readLoop()
}

// Close tears down the connection from outside the session's own goroutines,
// for example during server shutdown. The read loop unblocks and runs cleanup.
func (s *Session) Close() {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug().Err(err).Msg("Close on already-closed connection.")
	}
}

// handshake reads and validates the first frame. Any failure (timeout,
// malformed JSON, missing or invalid fields, nickname exhaustion) moves the
// session straight to Closing with no further I/O, per the handshake contract.
func (s *Session) handshake() bool {
	if err := s.conn.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set handshake deadline.")
		return false
	}

	frame, err := s.conn.ReadFrame()
	if err != nil {
		s.logger.Info().Err(err).Msg("Handshake read failed.")
		return false
	}

	pkt, err := protocol.Decode(frame)
	if err != nil {
		s.logger.Info().Err(err).Msg("Handshake frame did not parse.")
		return false
	}

	if pkt.Type != protocol.TypeHandshake {
		s.logger.Info().Str("packet_type", string(pkt.Type)).Msg("First packet was not a handshake.")
		return false
	}

	if pkt.Nickname == "" || pkt.Key == "" {
		s.logger.Info().Msg("Handshake packet missing nickname or key.")
		return false
	}

	// RecipientAll is the broadcast address; a user registered under it could
	// never be reached directly.
	if !user.ValidNickname(pkt.Nickname) || pkt.Nickname == protocol.RecipientAll {
		s.logger.Info().Str("nickname", pkt.Nickname).Msg("Handshake nickname rejected.")
		return false
	}

	if _, err := crypto.ParsePublicKeyPEM(pkt.Key); err != nil {
		s.logger.Info().Err(err).Msg("Handshake public key rejected.")
		return false
	}

	assigned, cerr := s.registry.Register(pkt.Nickname, pkt.Key, s)
	if cerr != nil {
		s.logger.Warn().Str("nickname", pkt.Nickname).Msg("Registration failed during handshake.")
		return false
	}

	s.logger = s.logger.With().Str("nickname", assigned).Logger()
	s.logger.Info().Msg("Handshake completed.")
	return true
}

// synchronise queues the DIR snapshot to this session, then announces the join
// to everyone else. The snapshot is computed and enqueued strictly before the
// J broadcast is issued, so the newcomer never sees its own join notification.
func (s *Session) synchronise() bool {
	dir := &protocol.Packet{
		Type:  protocol.TypeDirectory,
		Users: s.registry.Snapshot(s.user.Nickname),
	}

	if !s.enqueuePacket(dir) {
		s.logger.Warn().Msg("Failed to queue directory snapshot.")
		return false
	}

	s.router.BroadcastControl(&protocol.Packet{
		Type:     protocol.TypeJoin,
		Nickname: s.user.Nickname,
		Key:      s.user.Key,
	}, s)

	return true
}

// readLoop reads one frame at a time and hands each parsed packet to the
// router. Clean end-of-stream, I/O errors, and idle timeouts all end the loop
// and with it the session.
func (s *Session) readLoop() {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to set read deadline.")
			return
		}

		frame, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				// Oversized frames are rejected and the connection closed,
				// never buffered or partially parsed.
				s.sendError(errs.NewError(errs.ErrFrameTooLarge))
				s.logger.Warn().Msg("Oversized frame received. Closing session.")
			} else {
				s.logger.Info().Err(err).Msg("Read loop ended.")
			}
			return
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			// A malformed frame is reported to the sender only; the session continues.
			s.logger.Warn().Err(err).Msg("Client sent malformed frame.")
			s.sendError(errs.NewError(errs.ErrMalformedFrame))
			continue
		}

		s.user.Touch()
		s.dispatch(pkt)
	}
}

// dispatch routes one parsed packet according to its type tag. Unexpected
// types are logged and ignored, never fatal.
func (s *Session) dispatch(pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeMessage:
		s.router.Route(pkt, s)

	case protocol.TypeKey:
		s.handleKey(pkt)

	case protocol.TypeHandshake:
		s.logger.Warn().Msg("Client sent a second handshake. Rejected.")
		s.sendError(errs.NewError(errs.ErrUnexpectedPacket, string(pkt.Type)))

	case protocol.TypeDirectory, protocol.TypeJoin, protocol.TypeLeave, protocol.TypeError:
		s.logger.Warn().Str("packet_type", string(pkt.Type)).Msg("Client sent a server-only packet type. Rejected.")
		s.sendError(errs.NewError(errs.ErrUnexpectedPacket, string(pkt.Type)))

	default:
		s.logger.Warn().Str("packet_type", string(pkt.Type)).Msg("Client sent unknown packet type. Rejected.")
		s.sendError(errs.NewError(errs.ErrUnexpectedPacket, string(pkt.Type)))
	}
}

// handleKey processes an explicit public-key re-announcement from the owning
// session and rebroadcasts it. Only the owner can replace its key material.
func (s *Session) handleKey(pkt *protocol.Packet) {
	if _, err := crypto.ParsePublicKeyPEM(pkt.Key); err != nil {
		s.logger.Warn().Err(err).Msg("KEY re-announcement rejected: invalid key.")
		s.sendError(errs.NewError(errs.ErrInvalidPublicKey))
		return
	}

	if !s.registry.UpdateKey(s.user.Nickname, s, pkt.Key) {
		s.logger.Warn().Msg("KEY re-announcement ignored: session no longer owns its entry.")
		return
	}

	s.logger.Info().Msg("Public key re-announced.")

	s.router.BroadcastControl(&protocol.Packet{
		Type:     protocol.TypeKey,
		Nickname: s.user.Nickname,
		Key:      pkt.Key,
	}, s)
}

// writePump drains the send queue onto the connection and owns the connection
// close: when cleanup closes the queue, any still-queued frames (an ERROR
// explaining the disconnect, for instance) are flushed before the connection
// goes down. A write failure tears the session down; closing the conn
// unblocks the read loop, which runs cleanup.
func (s *Session) writePump() {
	defer s.Close()

	for frame := range s.send {
		if err := s.conn.WriteFrame(frame); err != nil {
			s.logger.Info().Err(err).Msg("Write failed. Closing session.")
			return
		}
	}
}

// enqueueFrame queues an encoded frame for delivery. It reports false when the
// queue is full or already closed, in which case the caller treats this
// session as a zombie connection.
func (s *Session) enqueueFrame(frame []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			// send was closed by cleanup while we were enqueueing.
			ok = false
		}
	}()

	if s.State() >= StateClosing {
		return false
	}

	select {
	case s.send <- frame:
		return true
	default:
		s.logger.Warn().Int("queue_len", len(s.send)).Msg("Send queue full, dropping frame.")
		return false
	}
}

// enqueuePacket encodes and queues a packet for delivery.
func (s *Session) enqueuePacket(pkt *protocol.Packet) bool {
	frame, err := protocol.Encode(pkt)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode outbound packet.")
		return false
	}
	return s.enqueueFrame(frame)
}

// sendError queues an ERROR packet describing the rejection to this session only.
func (s *Session) sendError(cerr *errs.CustomError) {
	s.enqueuePacket(protocol.NewErrorPacket(cerr.Code, cerr.Message))
}

// cleanup tears the session down: deregister, stop the send queue, and
// announce the departure to everyone left. It is idempotent; whichever error
// path runs first wins and the registry ends up in the same state either way,
// with exactly one L broadcast emitted. The connection itself is closed by the
// write pump once it has drained the queue, so a final ERROR frame still
// reaches the peer; if the pump never started, the connection is closed here.
func (s *Session) cleanup() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		removed := false
		if s.user != nil {
			removed = s.registry.Remove(s.user.Nickname, s)
		}

		close(s.send)

		if !s.pumpStarted.Load() {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Connection close during cleanup.")
			}
		}

		s.setState(StateClosed)

		if removed {
			s.router.BroadcastControl(&protocol.Packet{
				Type:     protocol.TypeLeave,
				Nickname: s.user.Nickname,
			}, s)
		}

		s.logger.Info().Msg("Session closed.")
	})
}
