package wire

import (
	"crypto/ed25519"
	"fmt"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/pkg/identity"
)

// ProtocolVersion is the current header encoding version.
const ProtocolVersion uint64 = 1

// Extensions carries the header fields outside the core log-integrity
// envelope. Prune is a reserved boolean extension slot hard-wired to false
// for forward compatibility — pruning itself is out of scope (spec.md §9,
// "Open: pruning").
type Extensions struct {
	Topic Topic
	Prune bool
}

// Header is the per-operation signed envelope (spec.md §3). It is the unit
// of log integrity: seq_num/backlink enforce per-author FIFO, previous
// enforces cross-log causal dependencies, and signature authenticates the
// whole header (computed with Signature zeroed) under PublicKey.
type Header struct {
	Version     uint64
	PublicKey   identity.ActorId
	Signature   [64]byte
	PayloadSize uint64
	PayloadHash *Hash
	Timestamp   uint64
	SeqNum      uint64
	Backlink    *Hash
	Previous    []Hash
	Extensions  Extensions
}

// wireHeader is the canonical CBOR array shape from spec.md §6 ("Wire
// format — header"). fxamacker/cbor's `,toarray` struct tag encodes struct
// fields positionally instead of as a map, giving the fixed-order array the
// spec calls for.
type wireHeader struct {
	_           struct{} `cbor:",toarray"`
	Version     uint64
	PublicKey   []byte
	Signature   []byte
	PayloadSize uint64
	PayloadHash []byte
	Timestamp   uint64
	SeqNum      uint64
	Backlink    []byte
	Previous    [][]byte
	Extensions  wireExtensions
}

type wireExtensions struct {
	_     struct{} `cbor:",toarray"`
	Topic wireTopic
	Prune bool
}

type wireTopic struct {
	_    struct{} `cbor:",toarray"`
	Kind uint8
	ID   []byte
}

func (h Header) toWire() wireHeader {
	previous := make([][]byte, len(h.Previous))
	for i, p := range h.Previous {
		b := make([]byte, 32)
		copy(b, p[:])
		previous[i] = b
	}

	var payloadHash []byte
	if h.PayloadHash != nil {
		payloadHash = append([]byte(nil), h.PayloadHash[:]...)
	}

	var backlink []byte
	if h.Backlink != nil {
		backlink = append([]byte(nil), h.Backlink[:]...)
	}

	return wireHeader{
		Version:     h.Version,
		PublicKey:   append([]byte(nil), h.PublicKey[:]...),
		Signature:   append([]byte(nil), h.Signature[:]...),
		PayloadSize: h.PayloadSize,
		PayloadHash: payloadHash,
		Timestamp:   h.Timestamp,
		SeqNum:      h.SeqNum,
		Backlink:    backlink,
		Previous:    previous,
		Extensions: wireExtensions{
			Topic: wireTopic{Kind: uint8(h.Extensions.Topic.Kind), ID: append([]byte(nil), h.Extensions.Topic.ID[:]...)},
			Prune: h.Extensions.Prune,
		},
	}
}

func (w wireHeader) toHeader() (Header, error) {
	var h Header
	if len(w.PublicKey) != 32 {
		return h, fmt.Errorf("invalid public_key length: %d", len(w.PublicKey))
	}
	copy(h.PublicKey[:], w.PublicKey)

	if len(w.Signature) != 64 {
		return h, fmt.Errorf("invalid signature length: %d", len(w.Signature))
	}
	copy(h.Signature[:], w.Signature)

	if w.PayloadHash != nil {
		if len(w.PayloadHash) != 32 {
			return h, fmt.Errorf("invalid payload_hash length: %d", len(w.PayloadHash))
		}
		var ph Hash
		copy(ph[:], w.PayloadHash)
		h.PayloadHash = &ph
	}

	if w.Backlink != nil {
		if len(w.Backlink) != 32 {
			return h, fmt.Errorf("invalid backlink length: %d", len(w.Backlink))
		}
		var bl Hash
		copy(bl[:], w.Backlink)
		h.Backlink = &bl
	}

	h.Previous = make([]Hash, len(w.Previous))
	for i, p := range w.Previous {
		if len(p) != 32 {
			return h, fmt.Errorf("invalid previous[%d] length: %d", i, len(p))
		}
		copy(h.Previous[i][:], p)
	}

	if len(w.Extensions.Topic.ID) != 32 {
		return h, fmt.Errorf("invalid extensions.topic id length: %d", len(w.Extensions.Topic.ID))
	}
	var topicID [32]byte
	copy(topicID[:], w.Extensions.Topic.ID)

	h.Version = w.Version
	h.PayloadSize = w.PayloadSize
	h.Timestamp = w.Timestamp
	h.SeqNum = w.SeqNum
	h.Extensions = Extensions{
		Topic: Topic{Kind: TopicKind(w.Extensions.Topic.Kind), ID: topicID},
		Prune: w.Extensions.Prune,
	}

	return h, nil
}

// MarshalCBOR implements canonical, array-shaped encoding.
func (h Header) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(h.toWire())
}

// UnmarshalCBOR implements the inverse of MarshalCBOR.
func (h *Header) UnmarshalCBOR(data []byte) error {
	var w wireHeader
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.toHeader()
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Encode returns the canonical CBOR encoding of the header.
func (h Header) Encode() ([]byte, error) {
	return codec.Marshal(h)
}

// DecodeHeader decodes a canonical CBOR-encoded header.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := codec.Unmarshal(data, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// signingBytes returns the header's canonical encoding with Signature
// zeroed — the bytes a signature is computed over and verified against
// (spec.md §3: "signature: signature by public_key over the header with
// signature zeroed").
func (h Header) signingBytes() ([]byte, error) {
	tmp := h
	tmp.Signature = [64]byte{}
	return tmp.Encode()
}

// Sign signs the header in place with id's Ed25519 key. id.ActorId() must
// equal h.PublicKey.
func (h *Header) Sign(id *identity.Identity) error {
	if h.PublicKey != id.ActorId() {
		return fmt.Errorf("header public_key does not match signer")
	}
	data, err := h.signingBytes()
	if err != nil {
		return fmt.Errorf("encode header for signing: %w", err)
	}
	sig := id.Sign(data)
	copy(h.Signature[:], sig)
	return nil
}

// Verify checks the header's signature under its own PublicKey.
func (h Header) Verify() error {
	data, err := h.signingBytes()
	if err != nil {
		return fmt.Errorf("encode header for verification: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(h.PublicKey[:]), data, h.Signature[:]) {
		return ErrSignatureInvalid("header signature verification failed")
	}
	return nil
}

// Hash returns the header's content hash — its stable identifier, used as
// backlink/previous references and the OperationStore key.
func (h Header) Hash() (Hash, error) {
	data, err := h.Encode()
	if err != nil {
		return Hash{}, err
	}
	return Sum(data), nil
}
