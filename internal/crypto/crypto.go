// Package crypto implements the hybrid RSA/AES primitives used for direct messages:
// key-pair generation, PEM encoding, fingerprint derivation, and the
// encrypt/decrypt operations producing and opening envelope payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"beatrice/internal/protocol"
)

const (
	// RSAKeyBits is the modulus size of session key pairs.
	RSAKeyBits = 2048

	// AESKeySize is the size of the per-message AES-256 key.
	AESKeySize = 32

	// GCMNonceSize is the size of the AES-GCM nonce.
	GCMNonceSize = 12

	// FingerprintLen is the number of hex characters in a key fingerprint.
	FingerprintLen = 16

	publicKeyPEMType = "PUBLIC KEY"
)

// DecryptionError reports any failure while opening a direct-message envelope:
// a bad unwrap, a truncated field, or an authentication-tag mismatch. It is
// surfaced to the local user only and never terminates a session.
type DecryptionError struct {
	cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", e.cause)
}

func (e *DecryptionError) Unwrap() error {
	return e.cause
}

// GenerateKeyPair generates a fresh RSA key pair for a session. Keys are held
// only in memory and are never written to durable storage.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("key pair generation failed: %w", err)
	}
	return key, nil
}

// EncodePublicKeyPEM serializes an RSA public key to PEM (SubjectPublicKeyInfo)
// for transmission in handshake and key packets.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("public key encoding failed: %w", err)
	}

	block := &pem.Block{Type: publicKeyPEMType, Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key received from a peer.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != publicKeyPEMType {
		return nil, errors.New("not a PEM-encoded public key")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}

	return pub, nil
}

// Fingerprint derives a short human-verifiable identifier for a public key:
// the first FingerprintLen hex characters of the SHA-256 hash of its DER form.
// The UI displays it so peers can spot a substituted key.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("fingerprint derivation failed: %w", err)
	}

	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:FingerprintLen], nil
}

// FingerprintPEM derives the fingerprint of a PEM-encoded public key.
func FingerprintPEM(pemStr string) (string, error) {
	pub, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return "", err
	}
	return Fingerprint(pub)
}

// EncryptDirect encrypts plaintext for a single recipient. A fresh AES-256 key
// and GCM nonce are generated per message; the content is sealed with AES-GCM
// and the AES key is wrapped with the recipient's RSA public key (OAEP/SHA-256).
//
// Broadcast messages are not encrypted this way: a single ciphertext cannot be
// addressed to many keys, so broadcast content travels in the clear.
func EncryptDirect(recipient *rsa.PublicKey, plaintext []byte) (*protocol.Envelope, error) {
	aesKey := make([]byte, AESKeySize)
	if _, err := io.ReadFull(rand.Reader, aesKey); err != nil {
		return nil, fmt.Errorf("AES key generation failed: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("AES cipher creation failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}

	nonce := make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("key wrap failed: %w", err)
	}

	return &protocol.Envelope{
		WrappedKey: base64.StdEncoding.EncodeToString(wrappedKey),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptDirect opens an envelope with the local RSA private key: the AES key
// is unwrapped with OAEP, then the content is opened with AES-GCM. Any failure
// is returned as a *DecryptionError.
func DecryptDirect(priv *rsa.PrivateKey, env *protocol.Envelope) ([]byte, error) {
	if env == nil {
		return nil, &DecryptionError{cause: errors.New("missing encrypted payload")}
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(env.WrappedKey)
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("wrapped key: %w", err)}
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("iv: %w", err)}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("ciphertext: %w", err)}
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("key unwrap: %w", err)}
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, &DecryptionError{cause: err}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &DecryptionError{cause: err}
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, &DecryptionError{cause: errors.New("bad nonce size")}
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{cause: err}
	}

	return plaintext, nil
}
