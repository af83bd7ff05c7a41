/*
Package client implements the chat client library: connection setup, handshake,
directory tracking, hybrid encryption of direct messages, and the event stream
consumed by the UI.

This file defines the Event type. The UI receives already-decrypted, validated
events through a channel and never touches raw sockets or private key
material; control-flow failures stay on ordinary error returns.
*/
package client

// EventKind classifies a client event.
type EventKind int

const (
	// EventConnected fires once the handshake packet has been sent.
	EventConnected EventKind = iota

	// EventDirectory carries the initial snapshot of connected peers.
	EventDirectory

	// EventJoin announces a peer joining.
	EventJoin

	// EventLeave announces a peer leaving.
	EventLeave

	// EventKeyChange announces a peer re-announcing its public key.
	EventKeyChange

	// EventMessage carries one chat message, decrypted when it was direct.
	EventMessage

	// EventError carries a server rejection or a local decryption failure.
	EventError

	// EventDisconnected fires once when the connection ends; the event
	// channel is closed right after.
	EventDisconnected
)

// Peer is the UI-facing view of another connected user.
type Peer struct {
	// Nickname is the peer's registered name.
	Nickname string

	// Fingerprint is the short hex digest of the peer's public key, shown so
	// users can verify identity out of band.
	Fingerprint string
}

// Event is one item on the UI event stream.
type Event struct {
	// Kind classifies the event.
	Kind EventKind

	// Peer identifies the subject of directory, join, leave, key, and message events.
	Peer Peer

	// Content is the message body, decrypted for direct messages.
	Content string

	// Direct marks a message that was individually encrypted for this client.
	Direct bool

	// Users is the full peer list on EventDirectory.
	Users []Peer

	// Code and Message describe EventError items.
	Code    int
	Message string
}
