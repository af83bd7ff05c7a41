/*
Package chat contains the core logic of the chat service: the connection
session state machine, the membership registry, and the message router.

This file defines the Router, which resolves a packet's routing target
(broadcast versus a single nickname) and dispatches it, consulting the
sender's replay guard and rate window first. Direct messages pass through
undecrypted; the server never possesses the private keys needed to open them.
*/
package chat

import (
	"time"

	"github.com/rs/zerolog"

	"beatrice/internal/app/user"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/protocol"
)

// Router dispatches message and control packets to registered sessions.
type Router struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRouter constructs a router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		logger:   logx.Logger().With().Str("component", "Router").Logger(),
	}
}

// Route handles one M packet from the given sender: replay check, rate check,
// then delivery. Every rejection is answered with an ERROR packet to the
// sender only and the message is not forwarded.
func (rt *Router) Route(pkt *protocol.Packet, sender *Session) {
	u := sender.user

	// The sender field is server-authoritative: whatever the client claimed is
	// replaced with the registered nickname before forwarding.
	pkt.Sender = u.Nickname

	if pkt.Nonce == "" || pkt.Timestamp == 0 {
		sender.sendError(errs.NewError(errs.ErrMalformedFrame))
		return
	}

	now := time.Now()

	switch u.Replay.Check(pkt.Nonce, time.Unix(pkt.Timestamp, 0), now) {
	case user.ReplayStale:
		rt.logger.Warn().Str("sender", u.Nickname).Int64("timestamp", pkt.Timestamp).Msg("Stale message rejected.")
		sender.sendError(errs.NewError(errs.ErrStaleTimestamp))
		return
	case user.ReplayDuplicate:
		rt.logger.Warn().Str("sender", u.Nickname).Str("nonce", pkt.Nonce).Msg("Replayed message rejected.")
		sender.sendError(errs.NewError(errs.ErrDuplicateNonce))
		return
	case user.ReplayOK:
	}

	if !u.Rate.Allow(now) {
		rt.logger.Warn().Str("sender", u.Nickname).Msg("Message rate ceiling exceeded.")
		sender.sendError(errs.NewError(errs.ErrRateLimited))
		return
	}

	if pkt.IsDirect() {
		rt.routeDirect(pkt, sender)
		return
	}

	rt.fanOut(pkt, sender)
}

// routeDirect forwards a single-recipient packet. An unknown recipient, which
// includes the late-joiner case where the target's join has not reached the
// sender yet, is answered with an ERROR, not silently dropped.
func (rt *Router) routeDirect(pkt *protocol.Packet, sender *Session) {
	target := rt.registry.Lookup(pkt.Recipient)
	if target == nil {
		sender.sendError(errs.NewError(errs.ErrUnknownRecipient, pkt.Recipient))
		return
	}

	if !target.enqueuePacket(pkt) {
		rt.logger.Warn().
			Str("recipient", pkt.Recipient).
			Msg("Recipient could not accept message. Cleaning up recipient session.")
		target.cleanup()
	}
}

// BroadcastControl fans a server-generated control packet (J, L, KEY) out to
// every registered session except the excluded one.
func (rt *Router) BroadcastControl(pkt *protocol.Packet, exclude *Session) {
	rt.fanOut(pkt, exclude)
}

// fanOut delivers one packet to every registered session except the excluded
// one, iterating a snapshot of the membership. A recipient that cannot accept
// the frame is cleaned up individually; delivery to the remaining recipients
// always continues.
func (rt *Router) fanOut(pkt *protocol.Packet, exclude *Session) {
	frame, err := protocol.Encode(pkt)
	if err != nil {
		rt.logger.Error().Err(err).Str("packet_type", string(pkt.Type)).Msg("Failed to encode broadcast packet.")
		return
	}

	excludeNickname := ""
	if exclude != nil {
		excludeNickname = exclude.Nickname()
	}

	for _, target := range rt.registry.Sessions(excludeNickname) {
		if !target.enqueueFrame(frame) {
			rt.logger.Warn().
				Str("recipient", target.Nickname()).
				Msg("Broadcast recipient could not accept frame. Cleaning up recipient session.")
			target.cleanup()
		}
	}
}
