/*
Package client implements the chat client library: connection setup, handshake,
directory tracking, hybrid encryption of direct messages, and the event stream
consumed by the UI.

This file defines the Client struct and its lifecycle: dial, handshake, the
receive loop translating wire packets into events, and the send operations.
*/
package client

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"beatrice/internal/crypto"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/pkg/randx"
	"beatrice/internal/protocol"
	"beatrice/internal/transport"
)

const (
	// eventQueueSize buffers events between the receive loop and the UI.
	eventQueueSize = 128

	// dialTimeout bounds the TCP connection attempt.
	dialTimeout = 10 * time.Second
)

// peerKey is the client-side record of another user's cipher material.
type peerKey struct {
	pub         *rsa.PublicKey
	fingerprint string
}

// Client is one connected chat endpoint. Key material lives in the KeyStore;
// the directory of peer keys is maintained from DIR, J, L, and KEY packets.
type Client struct {
	conn transport.Conn
	keys *crypto.KeyStore

	// nickname is the name requested at handshake. The server may have
	// suffixed it on collision; the wire protocol carries no handshake
	// acknowledgement, so the effective name is only observable to peers.
	nickname string

	mu    sync.RWMutex
	peers map[string]peerKey

	events chan Event
	once   sync.Once

	logger zerolog.Logger
}

// Dial connects to a chat server, generates a fresh session key pair, and
// sends the handshake. The returned client's event stream starts with
// EventConnected and ends with EventDisconnected followed by channel close.
func Dial(addr, nickname string) (*Client, error) {
	keys, err := crypto.NewKeyStore()
	if err != nil {
		return nil, err
	}

	raw, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:     transport.NewTCPConn(raw),
		keys:     keys,
		nickname: nickname,
		peers:    make(map[string]peerKey),
		events:   make(chan Event, eventQueueSize),
		logger: logx.Logger().With().
			Str("component", "Client").
			Str("nickname", nickname).
			Logger(),
	}

	handshake := &protocol.Packet{
		Type:     protocol.TypeHandshake,
		Nickname: nickname,
		Key:      keys.PublicKeyPEM(),
	}

	if err := c.writePacket(handshake); err != nil {
		raw.Close()
		return nil, fmt.Errorf("handshake send failed: %w", err)
	}

	c.emit(Event{Kind: EventConnected, Peer: Peer{Nickname: nickname, Fingerprint: keys.Fingerprint()}})

	go c.receiveLoop()

	return c, nil
}

// Events returns the UI event stream. It is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Fingerprint returns the client's own public-key fingerprint for display.
func (c *Client) Fingerprint() string {
	return c.keys.Fingerprint()
}

// Peers returns the current directory snapshot.
func (c *Client) Peers() []Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Peer, 0, len(c.peers))
	for nickname, pk := range c.peers {
		out = append(out, Peer{Nickname: nickname, Fingerprint: pk.fingerprint})
	}
	return out
}

// SendBroadcast sends cleartext content to every connected user. Broadcasts
// are not individually encrypted; only direct messages are.
func (c *Client) SendBroadcast(content string) error {
	return c.writePacket(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Sender:    c.nickname,
		Recipient: protocol.RecipientAll,
		Timestamp: time.Now().Unix(),
		Nonce:     randx.MessageNonce(),
		Content:   content,
	})
}

// SendDirect encrypts content for a single recipient using the hybrid scheme
// and sends it. It fails locally when the recipient's key is not yet known.
func (c *Client) SendDirect(recipient, content string) error {
	c.mu.RLock()
	pk, ok := c.peers[recipient]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no public key known for %q", recipient)
	}

	env, err := crypto.EncryptDirect(pk.pub, []byte(content))
	if err != nil {
		return fmt.Errorf("encryption for %q failed: %w", recipient, err)
	}

	return c.writePacket(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Sender:    c.nickname,
		Recipient: recipient,
		Timestamp: time.Now().Unix(),
		Nonce:     randx.MessageNonce(),
		Encrypted: env,
	})
}

// AnnounceKey re-sends the client's public key as a KEY packet.
func (c *Client) AnnounceKey() error {
	return c.writePacket(&protocol.Packet{
		Type:     protocol.TypeKey,
		Nickname: c.nickname,
		Key:      c.keys.PublicKeyPEM(),
	})
}

// Close tears down the connection and wipes the private key. The receive loop
// notices the closed connection, emits EventDisconnected, and closes the stream.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.keys.Purge()
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// writePacket encodes and writes one packet.
func (c *Client) writePacket(pkt *protocol.Packet) error {
	frame, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(frame)
}

// emit queues one event without ever blocking the receive loop.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Int("kind", int(ev.Kind)).Msg("Event queue full, dropping event.")
	}
}

// receiveLoop reads frames until the connection ends, translating each packet
// into an event. Malformed frames and decryption failures surface as error
// events; they never end the session.
func (c *Client) receiveLoop() {
	defer c.once.Do(func() {
		c.emitFinal(Event{Kind: EventDisconnected})
		close(c.events)
	})

	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			c.logger.Info().Err(err).Msg("Connection ended.")
			return
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Server sent malformed frame.")
			continue
		}

		c.handlePacket(pkt)
	}
}

// emitFinal queues the disconnect event if room remains. It must not block:
// a consumer that abandoned the event stream would otherwise pin the receive
// goroutine forever, and the subsequent close of the stream already signals
// the disconnect on its own.
func (c *Client) emitFinal(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Int("kind", int(ev.Kind)).Msg("Event queue full, dropping final event.")
	}
}

// handlePacket updates local state and emits events for one inbound packet.
func (c *Client) handlePacket(pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeDirectory:
		users := make([]Peer, 0, len(pkt.Users))
		for _, entry := range pkt.Users {
			peer, ok := c.storePeerKey(entry.Nickname, entry.Key)
			if !ok {
				continue
			}
			users = append(users, peer)
		}
		c.emit(Event{Kind: EventDirectory, Users: users})

	case protocol.TypeJoin:
		if peer, ok := c.storePeerKey(pkt.Nickname, pkt.Key); ok {
			c.emit(Event{Kind: EventJoin, Peer: peer})
		}

	case protocol.TypeKey:
		if peer, ok := c.storePeerKey(pkt.Nickname, pkt.Key); ok {
			c.emit(Event{Kind: EventKeyChange, Peer: peer})
		}

	case protocol.TypeLeave:
		c.mu.Lock()
		delete(c.peers, pkt.Nickname)
		c.mu.Unlock()
		c.emit(Event{Kind: EventLeave, Peer: Peer{Nickname: pkt.Nickname}})

	case protocol.TypeMessage:
		c.handleMessage(pkt)

	case protocol.TypeError:
		c.emit(Event{Kind: EventError, Code: pkt.Code, Message: pkt.Message})

	case protocol.TypeHandshake:
		c.logger.Warn().Msg("Server sent a handshake packet. Ignored.")

	default:
		c.logger.Warn().Str("packet_type", string(pkt.Type)).Msg("Unknown packet type from server. Ignored.")
	}
}

// handleMessage emits a chat message, decrypting direct payloads first.
func (c *Client) handleMessage(pkt *protocol.Packet) {
	peer := c.peerView(pkt.Sender)

	if pkt.Encrypted == nil {
		c.emit(Event{Kind: EventMessage, Peer: peer, Content: pkt.Content})
		return
	}

	plaintext, err := c.keys.Decrypt(pkt.Encrypted)
	if err != nil {
		// Reported locally only; the session carries on.
		c.logger.Warn().Err(err).Str("sender", pkt.Sender).Msg("Direct message could not be decrypted.")
		cerr := errs.NewError(errs.ErrDecryptionFailed)
		c.emit(Event{Kind: EventError, Peer: peer, Code: cerr.Code, Message: cerr.Message})
		return
	}

	c.emit(Event{Kind: EventMessage, Peer: peer, Content: string(plaintext), Direct: true})
}

// storePeerKey parses and records a peer's announced key, returning the
// UI-facing view. Unparseable keys are dropped with a log entry.
func (c *Client) storePeerKey(nickname, key string) (Peer, bool) {
	if nickname == "" {
		return Peer{}, false
	}

	pub, err := crypto.ParsePublicKeyPEM(key)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", nickname).Msg("Peer announced an unusable key.")
		return Peer{}, false
	}

	fingerprint, err := crypto.Fingerprint(pub)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", nickname).Msg("Peer key fingerprint failed.")
		return Peer{}, false
	}

	c.mu.Lock()
	c.peers[nickname] = peerKey{pub: pub, fingerprint: fingerprint}
	c.mu.Unlock()

	return Peer{Nickname: nickname, Fingerprint: fingerprint}, true
}

// peerView returns the known view of a nickname, fingerprint included when available.
func (c *Client) peerView(nickname string) Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if pk, ok := c.peers[nickname]; ok {
		return Peer{Nickname: nickname, Fingerprint: pk.fingerprint}
	}
	return Peer{Nickname: nickname}
}
