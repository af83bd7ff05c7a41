// Package crypto implements the hybrid RSA/AES primitives used for direct messages.
//
// This file defines the KeyStore, which owns a session's RSA key pair on the
// client side. The private key is kept sealed in a memguard enclave between
// uses so it never sits in plain heap memory, is never logged, and is wiped
// when the session ends.
package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"beatrice/internal/protocol"
)

// KeyStore holds one session's key material. The public half is freely
// shareable; the private half only exists inside the enclave.
type KeyStore struct {
	public      *rsa.PublicKey
	publicPEM   string
	fingerprint string

	mu      sync.Mutex // guards enclave against Purge racing Decrypt
	enclave *memguard.Enclave
}

// NewKeyStore generates a fresh key pair and seals the private key.
func NewKeyStore() (*KeyStore, error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	publicPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	// NewBufferFromBytes wipes the source slice once the buffer owns it.
	der := x509.MarshalPKCS1PrivateKey(key)
	enclave := memguard.NewBufferFromBytes(der).Seal()

	return &KeyStore{
		public:      &key.PublicKey,
		publicPEM:   publicPEM,
		fingerprint: fingerprint,
		enclave:     enclave,
	}, nil
}

// PublicKeyPEM returns the PEM form of the public key for handshake packets.
func (k *KeyStore) PublicKeyPEM() string {
	return k.publicPEM
}

// Fingerprint returns the short hex fingerprint of the public key.
func (k *KeyStore) Fingerprint() string {
	return k.fingerprint
}

// Decrypt opens a direct-message envelope with the sealed private key. The key
// is reconstructed only for the duration of the call and wiped afterwards.
func (k *KeyStore) Decrypt(env *protocol.Envelope) ([]byte, error) {
	k.mu.Lock()
	enclave := k.enclave
	k.mu.Unlock()
	if enclave == nil {
		return nil, &DecryptionError{cause: errors.New("private key purged")}
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("private key unavailable: %w", err)}
	}
	defer buf.Destroy()

	priv, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return nil, &DecryptionError{cause: fmt.Errorf("private key corrupt: %w", err)}
	}

	return DecryptDirect(priv, env)
}

// Purge drops the sealed private key. The enclave contents stay encrypted at
// rest, so releasing the reference is enough. Decrypt calls after Purge fail
// with a DecryptionError rather than panicking, so an in-flight direct message
// racing the purge degrades to an undecryptable message.
func (k *KeyStore) Purge() {
	k.mu.Lock()
	k.enclave = nil
	k.mu.Unlock()
}
