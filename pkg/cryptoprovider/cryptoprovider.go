// Package cryptoprovider supplies the default implementation of the
// `Crypto` external collaborator spec.md §1 names by interface only
// ("the low-level cryptographic primitives ... treated as an opaque
// Crypto provider"). The space state machine and forge depend on the
// Crypto interface, not this package directly, so a different backend can
// be substituted without touching domain code.
package cryptoprovider

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

//go:generate go run go.uber.org/mock/mockgen -destination=cryptoprovidermock/mock.go -package=cryptoprovidermock . Crypto

// Crypto is the external cryptographic-primitives boundary spec.md §1
// names: X25519 key agreement, AEAD seal/open, and content hashing are
// all reached only through this interface.
type Crypto interface {
	// GenerateKeyAgreementKeypair produces a fresh X25519 keypair for a
	// KeyBundle prekey or an ephemeral sealing key.
	GenerateKeyAgreementKeypair() (public, private [32]byte, err error)
	// SharedSecret performs X25519 scalar multiplication.
	SharedSecret(privateKey, peerPublicKey [32]byte) ([32]byte, error)
	// Seal encrypts plaintext with ChaCha20-Poly1305 under key, returning
	// a fresh random nonce and the ciphertext.
	Seal(key [32]byte, plaintext, additionalData []byte) (nonce [12]byte, ciphertext []byte, err error)
	// Open decrypts a ciphertext produced by Seal.
	Open(key [32]byte, nonce [12]byte, ciphertext, additionalData []byte) ([]byte, error)
}

// Default is the production Crypto implementation: X25519 (curve25519)
// for key agreement and ChaCha20-Poly1305 (chacha20poly1305) for AEAD,
// the same primitive pair the teacher's Noise IK session layer
// (pkg/noisesession) negotiates for its transport-level handshake.
type Default struct{}

// New returns the default Crypto provider.
func New() Default { return Default{} }

func (Default) GenerateKeyAgreementKeypair() (public, private [32]byte, err error) {
	if _, err = rand.Read(private[:]); err != nil {
		return public, private, fmt.Errorf("generate key agreement private key: %w", err)
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, private, fmt.Errorf("derive key agreement public key: %w", err)
	}
	copy(public[:], pub)
	return public, private, nil
}

func (Default) SharedSecret(privateKey, peerPublicKey [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return out, fmt.Errorf("X25519 key agreement: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

func (Default) Seal(key [32]byte, plaintext, additionalData []byte) ([12]byte, []byte, error) {
	var nonce [12]byte
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nonce, nil, fmt.Errorf("construct AEAD cipher: %w", err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce[:], plaintext, additionalData)
	return nonce, ciphertext, nil
}

func (Default) Open(key [32]byte, nonce [12]byte, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("construct AEAD cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("AEAD open: %w", err)
	}
	return plaintext, nil
}
