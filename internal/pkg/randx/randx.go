/*
Package randx provides functions for generating cryptographically secure random values.

It is used to generate nickname collision suffixes and the per-message nonces
carried by chat packets.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// SuffixMin is the smallest value used as a nickname collision suffix.
	SuffixMin = 100

	// SuffixMax is the largest value used as a nickname collision suffix.
	SuffixMax = 999
)

// NicknameSuffix returns a random three-digit number in [SuffixMin, SuffixMax]
// used to disambiguate colliding nicknames, using crypto/rand.
func NicknameSuffix() (int, error) {
	span := int64(SuffixMax - SuffixMin + 1)

	num, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random nickname suffix: %v", err)
	}

	return SuffixMin + int(num.Int64()), nil
}

// MessageNonce generates a standard UUID v4 string to serve as the replay-protection
// nonce for an outbound message.
func MessageNonce() string {
	return uuid.New().String()
}
