package randx

import (
	"testing"

	"github.com/google/uuid"
)

func TestNicknameSuffixRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		suffix, err := NicknameSuffix()
		if err != nil {
			t.Fatalf("NicknameSuffix() error = %v", err)
		}
		if suffix < SuffixMin || suffix > SuffixMax {
			t.Fatalf("NicknameSuffix() = %d, want within [%d, %d]", suffix, SuffixMin, SuffixMax)
		}
	}
}

func TestMessageNonceIsUniqueUUID(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		nonce := MessageNonce()
		if _, err := uuid.Parse(nonce); err != nil {
			t.Fatalf("MessageNonce() = %q is not a UUID: %v", nonce, err)
		}
		if _, dup := seen[nonce]; dup {
			t.Fatalf("MessageNonce() repeated %q", nonce)
		}
		seen[nonce] = struct{}{}
	}
}
