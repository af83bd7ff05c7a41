/*
Package protocol defines the wire packet shapes exchanged between chat clients and the server.

This file defines the Packet struct, the closed set of packet types, and the
encrypted payload envelope carried by direct messages. Every packet travels as
a single newline-delimited UTF-8 JSON frame.
*/
package protocol

// Type identifies the kind of packet carried by a frame.
type Type string

// The closed set of packet types. Dispatch on these must always carry a
// default arm for unknown tags.
const (
	// TypeHandshake is the first packet a client sends: nickname plus PEM public key.
	TypeHandshake Type = "H"

	// TypeDirectory is the full directory snapshot sent once to a newly joined client.
	TypeDirectory Type = "DIR"

	// TypeJoin announces a newly registered user to every other session.
	TypeJoin Type = "J"

	// TypeLeave announces a departed user to every remaining session.
	TypeLeave Type = "L"

	// TypeMessage carries chat content, either cleartext (broadcast) or an
	// encrypted envelope (direct message).
	TypeMessage Type = "M"

	// TypeKey is an explicit public-key (re-)announcement by a connected user.
	TypeKey Type = "KEY"

	// TypeError is a rejection notice delivered to a single client.
	TypeError Type = "ERROR"
)

// RecipientAll is the reserved recipient value addressing every connected user.
const RecipientAll = "ALL"

// DirectoryEntry is one user in a directory snapshot.
type DirectoryEntry struct {
	// Nickname is the registered display name.
	Nickname string `json:"n"`

	// Key is the user's PEM-encoded RSA public key.
	Key string `json:"k"`
}

// Envelope is the hybrid-encryption payload of a direct message. All fields
// are base64 (standard encoding). The server forwards envelopes opaquely; it
// never holds the private keys needed to open them.
type Envelope struct {
	// WrappedKey is the fresh AES key, encrypted with the recipient's RSA public key (OAEP).
	WrappedKey string `json:"wrappedKey"`

	// IV is the AES-GCM nonce used for this message.
	IV string `json:"iv"`

	// Ciphertext is the AES-GCM output, authentication tag included.
	Ciphertext string `json:"ciphertext"`
}

// Packet is the tagged union carried by every frame. Which fields are
// populated depends on Type; unused fields are omitted from the wire form.
type Packet struct {
	// Type tags the variant. Required on every packet.
	Type Type `json:"t"`

	// Nickname is used by H, J, L, and KEY packets.
	Nickname string `json:"n,omitempty"`

	// Key is the PEM public key used by H, J, and KEY packets.
	Key string `json:"k,omitempty"`

	// Users is the directory snapshot carried by DIR packets.
	Users []DirectoryEntry `json:"users,omitempty"`

	// Sender is the originating nickname on M packets. The server stamps this
	// field with the registered nickname before forwarding.
	Sender string `json:"sender,omitempty"`

	// Recipient is RecipientAll or a nickname, on M packets.
	Recipient string `json:"recipient,omitempty"`

	// Timestamp is the sender's Unix time in seconds, on M packets.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Nonce is the sender-generated replay-protection nonce, on M packets.
	Nonce string `json:"nonce,omitempty"`

	// Content is the cleartext body of a broadcast message.
	Content string `json:"content,omitempty"`

	// Encrypted is the hybrid envelope of a direct message.
	Encrypted *Envelope `json:"encryptedPayload,omitempty"`

	// Code and Message populate ERROR packets.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsDirect reports whether an M packet targets a single nickname rather than
// the whole room.
func (p *Packet) IsDirect() bool {
	return p.Recipient != "" && p.Recipient != RecipientAll
}
