// Package wire defines the on-wire data model: Header, Operation, Topic,
// Payload, and the SpaceControlMessage/SpacesArgs tagged union, plus their
// canonical CBOR encodings (spec.md §3, §6). It mirrors the role of the
// teacher's pkg/wire/frame.go (signed, canonically-encoded envelopes) but
// the envelope shape follows this project's append-only log header rather
// than beenet's generic request/response frame.
package wire

import (
	"encoding/hex"
	"fmt"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"lukechampine.com/blake3"
)

// Hash is a content hash: BLAKE3-256 of some canonically encoded value.
// It identifies Headers (Header.hash), the payload bytes (payload_hash),
// and SpaceControlMessages (where it doubles as an OperationId).
type Hash [32]byte

// Sum computes the BLAKE3-256 hash of data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used to represent "none" in
// contexts where a pointer would otherwise be required).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a lowercase hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// OperationId identifies a SpaceControlMessage within the space state
// machine. It is the same 32-byte content hash as Hash — spec.md §3 notes
// the SpaceControlMessage's hash "also serves as an OperationId inside the
// space state machine" — kept as a distinct name at call sites so it's
// clear which domain (log layer vs. space layer) a value belongs to.
type OperationId = Hash

// ChatId is a space's random, immutable 32-byte identifier (spec.md §3).
type ChatId [32]byte

func (c ChatId) String() string {
	return hex.EncodeToString(c[:])
}

// ParseChatId parses a lowercase hex-encoded ChatId.
func ParseChatId(s string) (ChatId, error) {
	var c ChatId
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("invalid chat id hex: %w", err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("invalid chat id length: got %d, want %d", len(b), len(c))
	}
	copy(c[:], b)
	return c, nil
}

// ChatIdFromBytes builds a ChatId from raw bytes (e.g. crypto/rand output).
func ChatIdFromBytes(b []byte) (ChatId, error) {
	var c ChatId
	if len(b) != len(c) {
		return c, fmt.Errorf("invalid chat id length: got %d, want %d", len(b), len(c))
	}
	copy(c[:], b)
	return c, nil
}

// TopicKind distinguishes the two gossip channel families (spec.md §3).
type TopicKind uint8

const (
	// TopicKindChat addresses the Chat(ChatId) gossip channel carrying
	// SpaceControlMessage payloads for a single space.
	TopicKindChat TopicKind = iota
	// TopicKindInbox addresses an actor's private Inbox(PublicKey) channel
	// carrying Invitation payloads.
	TopicKindInbox
)

// Topic is the tagged union `Chat(ChatId) | Inbox(PublicKey)` (spec.md §3).
// It determines both the gossip channel and the per-author log id.
type Topic struct {
	Kind TopicKind
	ID   [32]byte
}

// ChatTopic builds a Topic addressing a space's chat channel.
func ChatTopic(id ChatId) Topic {
	return Topic{Kind: TopicKindChat, ID: id}
}

// InboxTopic builds a Topic addressing an actor's inbox.
func InboxTopic(actor identity.ActorId) Topic {
	return Topic{Kind: TopicKindInbox, ID: actor}
}

// ChatId returns the chat id this topic addresses, if it is a chat topic.
func (t Topic) ChatId() (ChatId, bool) {
	if t.Kind != TopicKindChat {
		return ChatId{}, false
	}
	return ChatId(t.ID), true
}

// InboxOwner returns the actor this topic's inbox belongs to, if it is an
// inbox topic.
func (t Topic) InboxOwner() (identity.ActorId, bool) {
	if t.Kind != TopicKindInbox {
		return identity.ActorId{}, false
	}
	return identity.ActorId(t.ID), true
}

// Bytes returns the 32-byte gossip topic id used on the wire (spec.md §6
// "Topic id"): the ChatId or PublicKey bytes, independent of Kind. Gossip
// channel isolation between a chat and an inbox that happen to collide in
// ID space cannot occur since ChatId and ActorId are drawn from disjoint
// generation processes (random vs. key material), matching the source
// system's assumption.
func (t Topic) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, t.ID[:])
	return b
}

func (t Topic) String() string {
	switch t.Kind {
	case TopicKindChat:
		return fmt.Sprintf("chat:%s", hex.EncodeToString(t.ID[:]))
	case TopicKindInbox:
		return fmt.Sprintf("inbox:%s", hex.EncodeToString(t.ID[:]))
	default:
		return fmt.Sprintf("topic(kind=%d):%s", t.Kind, hex.EncodeToString(t.ID[:]))
	}
}
