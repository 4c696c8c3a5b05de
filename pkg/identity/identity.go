// Package identity manages the local actor's long-term key material: the
// Ed25519 signing key that authenticates authored operations (Header.sign,
// spec.md §3), and the X25519 key-agreement key published in KeyBundle
// control messages so other actors can seal DirectMessages to it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

// ActorId is the 32-byte Ed25519 public key that uniquely identifies an
// actor, per the Data Model in spec.md §3.
type ActorId [32]byte

// String renders the ActorId as lowercase hex, the canonical text form
// named in spec.md §6 ("Identifiers").
func (a ActorId) String() string {
	return hex.EncodeToString(a[:])
}

// ParseActorId parses a lowercase hex-encoded ActorId.
func ParseActorId(s string) (ActorId, error) {
	var id ActorId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid actor id hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid actor id length: got %d, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// Identity holds the local actor's signing and key-agreement key pairs.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey ed25519.PrivateKey `json:"signing_private_key"`

	KeyAgreementPublicKey  [32]byte `json:"key_agreement_public_key"`
	KeyAgreementPrivateKey [32]byte `json:"key_agreement_private_key"`
}

// Generate creates a new Identity with fresh Ed25519 and X25519 key pairs.
func Generate() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key pair: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	return &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}, nil
}

// ActorId returns the actor identity derived from the signing public key.
func (id *Identity) ActorId() ActorId {
	var a ActorId
	copy(a[:], id.SigningPublicKey)
	return a
}

// Sign signs data with the actor's Ed25519 private key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, data)
}

// Verify verifies a signature made by the given ActorId's public key.
func Verify(actor ActorId, data, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(actor[:]), data, signature)
}

// SaveToFile persists the identity as JSON with restricted permissions.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}

	return nil
}

// LoadFromFile loads a previously persisted identity.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}

	return &id, nil
}
