// Package dht implements DHT records used for peer discovery.
package dht

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"lukechampine.com/blake3"
)

// PresenceRecord is a signed announcement that an actor is reachable at a
// set of addresses within a network.
type PresenceRecord struct {
	V        uint16   `cbor:"v"`     // version, always 1
	Network  string   `cbor:"net"`   // logical network/overlay identifier
	Actor    string   `cbor:"actor"` // ActorId.String()
	Nickname string   `cbor:"nick"`  // display nickname, not authoritative
	Addrs    []string `cbor:"addrs"` // multiaddresses
	Caps     []string `cbor:"caps"`  // capabilities
	Expire   uint64   `cbor:"expire"`
	Sig      []byte   `cbor:"sig"`
}

// NewPresenceRecord creates a new, signed presence record.
func NewPresenceRecord(network string, id *identity.Identity, nickname string, addrs, caps []string) (*PresenceRecord, error) {
	if id == nil {
		return nil, fmt.Errorf("identity is required")
	}

	record := &PresenceRecord{
		V:        1,
		Network:  network,
		Actor:    id.ActorId().String(),
		Nickname: nickname,
		Addrs:    addrs,
		Caps:     caps,
		Expire:   uint64(time.Now().Add(constants.PresenceTTL).UnixMilli()),
	}

	if err := record.Sign(id.SigningPrivateKey); err != nil {
		return nil, fmt.Errorf("sign presence record: %w", err)
	}
	return record, nil
}

func (pr *PresenceRecord) unsigned() *PresenceRecord {
	return &PresenceRecord{
		V:        pr.V,
		Network:  pr.Network,
		Actor:    pr.Actor,
		Nickname: pr.Nickname,
		Addrs:    pr.Addrs,
		Caps:     pr.Caps,
		Expire:   pr.Expire,
	}
}

// Sign signs the record with the given private key.
func (pr *PresenceRecord) Sign(privateKey ed25519.PrivateKey) error {
	canonical, err := codec.Marshal(pr.unsigned())
	if err != nil {
		return fmt.Errorf("canonicalize presence record: %w", err)
	}
	pr.Sig = ed25519.Sign(privateKey, canonical)
	return nil
}

// Verify checks the record's signature against publicKey.
func (pr *PresenceRecord) Verify(publicKey ed25519.PublicKey) error {
	if len(pr.Sig) == 0 {
		return fmt.Errorf("record is not signed")
	}
	canonical, err := codec.Marshal(pr.unsigned())
	if err != nil {
		return fmt.Errorf("canonicalize presence record: %w", err)
	}
	if !ed25519.Verify(publicKey, canonical, pr.Sig) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// IsExpired reports whether the record has passed its expiry.
func (pr *PresenceRecord) IsExpired() bool {
	return time.Now().UnixMilli() > int64(pr.Expire)
}

// IsValid performs basic structural validation of the record.
func (pr *PresenceRecord) IsValid() error {
	if pr.V != 1 {
		return fmt.Errorf("invalid version: %d", pr.V)
	}
	if pr.Network == "" {
		return fmt.Errorf("network id is required")
	}
	if pr.Actor == "" {
		return fmt.Errorf("actor id is required")
	}
	if len(pr.Addrs) == 0 {
		return fmt.Errorf("at least one address is required")
	}
	if pr.Expire == 0 {
		return fmt.Errorf("expiration time is required")
	}
	if len(pr.Sig) == 0 {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// GetPresenceKey derives the DHT key for an actor's presence record within
// a network: K = H("presence" | network | actor).
func GetPresenceKey(network string, actor identity.ActorId) []byte {
	data := []byte("presence")
	data = append(data, []byte(network)...)
	data = append(data, actor[:]...)
	hash := blake3.Sum256(data)
	return hash[:]
}
