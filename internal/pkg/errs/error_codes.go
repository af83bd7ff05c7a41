/*
Package errs provides custom error types and application-level error code constants.

These error codes are carried inside ERROR packets so clients can clearly identify
why a frame, a handshake, or a message was rejected by the server.
*/
package errs

// 1xxx: Wire Protocol Errors
const (
	// ErrMalformedFrame indicates that a received frame was not valid JSON
	// or did not decode into a known packet shape.
	ErrMalformedFrame = 1001

	// ErrFrameTooLarge indicates that a frame exceeded the per-frame size ceiling.
	ErrFrameTooLarge = 1002

	// ErrUnexpectedPacket indicates a packet type that is not valid in the
	// session's current state (for example a second handshake).
	ErrUnexpectedPacket = 1003
)

// 2xxx: Handshake Errors
//
// Handshake rejections before registration close the connection without an
// ERROR packet, so only the codes a registered session can still trigger
// (KEY re-announcements, suffix exhaustion) are defined here.
const (
	// ErrInvalidPublicKey indicates the handshake key was not a parseable PEM-encoded RSA public key.
	ErrInvalidPublicKey = 2004

	// ErrNicknameExhausted indicates no collision-free nickname could be
	// assigned within the bounded number of suffix attempts.
	ErrNicknameExhausted = 2005
)

// 3xxx: Routing and Abuse Errors
const (
	// ErrUnknownRecipient indicates a message targeted a nickname that is not
	// registered (or not yet synchronized).
	ErrUnknownRecipient = 3001

	// ErrStaleTimestamp indicates a message timestamp older than the replay window.
	ErrStaleTimestamp = 3002

	// ErrDuplicateNonce indicates a (sender, nonce) pair already seen within the replay window.
	ErrDuplicateNonce = 3003

	// ErrRateLimited indicates the sender exceeded the per-user message rate ceiling.
	ErrRateLimited = 3004

	// ErrConnRateLimited indicates the connecting address exceeded the accept rate ceiling.
	ErrConnRateLimited = 3005
)

// 4xxx: Cryptography Errors (surfaced locally on clients, never forwarded)
const (
	// ErrDecryptionFailed indicates an AES-GCM authentication failure or an
	// RSA unwrap failure on a direct message.
	ErrDecryptionFailed = 4001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
