/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
ERROR packets sent to clients and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and,
// where relevant, the HTTP status used by the gateway.
var errorMap = map[int]CustomError{
	// 1xxx: Wire Protocol Errors
	ErrMalformedFrame:   {Code: ErrMalformedFrame, Message: "Frame is not a valid packet."},
	ErrFrameTooLarge:    {Code: ErrFrameTooLarge, Message: "Frame exceeds the maximum allowed size."},
	ErrUnexpectedPacket: {Code: ErrUnexpectedPacket, Message: "Packet type %q is not expected here."},

	// 2xxx: Handshake Errors
	ErrInvalidPublicKey:  {Code: ErrInvalidPublicKey, Message: "Invalid public key. Please provide a valid PEM-encoded public key."},
	ErrNicknameExhausted: {Code: ErrNicknameExhausted, Message: "Nickname is taken and no free variant could be assigned."},

	// 3xxx: Routing and Abuse Errors
	ErrUnknownRecipient: {Code: ErrUnknownRecipient, Message: "Recipient %q is unknown or not yet synchronized."},
	ErrStaleTimestamp:   {Code: ErrStaleTimestamp, Message: "Message timestamp is too old."},
	ErrDuplicateNonce:   {Code: ErrDuplicateNonce, Message: "Message nonce was already seen."},
	ErrRateLimited:      {Code: ErrRateLimited, Message: "Too many messages. Please slow down.", Status: http.StatusTooManyRequests},
	ErrConnRateLimited:  {Code: ErrConnRateLimited, Message: "Too many connection attempts. Please try again later.", Status: http.StatusTooManyRequests},

	// 4xxx: Cryptography Errors
	ErrDecryptionFailed: {Code: ErrDecryptionFailed, Message: "Message could not be decrypted."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
