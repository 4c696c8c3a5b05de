package wire

import (
	"fmt"

	"github.com/dashchat/spaces-engine/internal/codec"
)

// PayloadType tags which Payload variant a Header's body bytes decode to
// (spec.md §3, "Payload — tagged union").
type PayloadType uint8

const (
	PayloadSpaceControl PayloadType = iota
	PayloadInvitation
)

func (t PayloadType) String() string {
	switch t {
	case PayloadSpaceControl:
		return "SpaceControl"
	case PayloadInvitation:
		return "Invitation"
	default:
		return fmt.Sprintf("PayloadType(%d)", uint8(t))
	}
}

// InvitationKind distinguishes the two Invitation variants carried on an
// actor's Inbox topic (spec.md §4.8).
type InvitationKind uint8

const (
	InvitationJoinGroup InvitationKind = iota
	InvitationFriend
)

// InvitationMessage is `JoinGroup(ChatId) | Friend` (spec.md §3). ChatId is
// meaningful only for InvitationJoinGroup.
type InvitationMessage struct {
	Kind   InvitationKind
	ChatId ChatId
}

// JoinGroupInvitation builds a JoinGroup invitation for chatID.
func JoinGroupInvitation(chatID ChatId) InvitationMessage {
	return InvitationMessage{Kind: InvitationJoinGroup, ChatId: chatID}
}

// FriendInvitation builds an advisory Friend invitation.
func FriendInvitation() InvitationMessage {
	return InvitationMessage{Kind: InvitationFriend}
}

// Payload is a Header's body: `SpaceControl(Vec<SpaceControlMessage>) |
// Invitation(InvitationMessage)` (spec.md §3). Exactly one of
// SpaceControl or Invitation is populated, selected by Type.
type Payload struct {
	Type         PayloadType
	SpaceControl []SpaceControlMessage
	Invitation   InvitationMessage
}

// SpaceControlPayload wraps one or more control messages authored in a
// single batch (spec.md §4.2: batch-internal dependencies are satisfied by
// the batch itself).
func SpaceControlPayload(msgs ...SpaceControlMessage) Payload {
	return Payload{Type: PayloadSpaceControl, SpaceControl: msgs}
}

// InvitationPayload wraps an Invitation body.
func InvitationPayload(inv InvitationMessage) Payload {
	return Payload{Type: PayloadInvitation, Invitation: inv}
}

type wireInvitationMessage struct {
	Kind   uint8  `cbor:"kind"`
	ChatId []byte `cbor:"chat_id,omitempty"`
}

type wirePayload struct {
	Type         uint8                     `cbor:"type"`
	SpaceControl []wireSpaceControlMessage `cbor:"space_control,omitempty"`
	Invitation   *wireInvitationMessage    `cbor:"invitation,omitempty"`
}

// Encode returns the canonical CBOR encoding of the payload — the bytes
// stored as a Header's body (spec.md §3: body = "opaque bytes").
func (p Payload) Encode() ([]byte, error) {
	switch p.Type {
	case PayloadSpaceControl:
		msgs := make([]wireSpaceControlMessage, len(p.SpaceControl))
		for i, m := range p.SpaceControl {
			args, err := encodeSpacesArgs(m.Args)
			if err != nil {
				return nil, fmt.Errorf("encode space control[%d]: %w", i, err)
			}
			msgs[i] = wireSpaceControlMessage{
				Hash:   bytes32(m.Hash),
				Author: bytes32(m.Author),
				Args:   args,
			}
		}
		return codec.Marshal(wirePayload{Type: uint8(PayloadSpaceControl), SpaceControl: msgs})

	case PayloadInvitation:
		w := wireInvitationMessage{Kind: uint8(p.Invitation.Kind)}
		if p.Invitation.Kind == InvitationJoinGroup {
			w.ChatId = bytes32(p.Invitation.ChatId)
		}
		return codec.Marshal(wirePayload{Type: uint8(PayloadInvitation), Invitation: &w})

	default:
		return nil, fmt.Errorf("unknown payload type %d", p.Type)
	}
}

// DecodePayload decodes a canonical CBOR-encoded payload.
func DecodePayload(data []byte) (Payload, error) {
	var w wirePayload
	if err := codec.Unmarshal(data, &w); err != nil {
		return Payload{}, err
	}

	switch PayloadType(w.Type) {
	case PayloadSpaceControl:
		msgs := make([]SpaceControlMessage, len(w.SpaceControl))
		for i, wm := range w.SpaceControl {
			hash, err := parse32(wm.Hash, "space_control[].hash")
			if err != nil {
				return Payload{}, err
			}
			author, err := parse32(wm.Author, "space_control[].author")
			if err != nil {
				return Payload{}, err
			}
			args, err := decodeSpacesArgs(wm.Args)
			if err != nil {
				return Payload{}, err
			}
			msgs[i] = SpaceControlMessage{Hash: hash, Author: author, Args: args}
		}
		return Payload{Type: PayloadSpaceControl, SpaceControl: msgs}, nil

	case PayloadInvitation:
		if w.Invitation == nil {
			return Payload{}, fmt.Errorf("missing invitation body")
		}
		inv := InvitationMessage{Kind: InvitationKind(w.Invitation.Kind)}
		if inv.Kind == InvitationJoinGroup {
			chatID, err := parse32(w.Invitation.ChatId, "invitation.chat_id")
			if err != nil {
				return Payload{}, err
			}
			inv.ChatId = ChatId(chatID)
		}
		return Payload{Type: PayloadInvitation, Invitation: inv}, nil

	default:
		return Payload{}, fmt.Errorf("unknown payload type %d", w.Type)
	}
}

// wireOperation is the CBOR tuple `(header_bytes, body_bytes | null)`
// (spec.md §6, "Wire format — operation"), the unit actually exchanged by
// gossip and sync.
type wireOperation struct {
	_    struct{} `cbor:",toarray"`
	Header []byte
	Body   []byte
}

// Operation is a signed Header paired with its optional body bytes — the
// unit gossiped and stored (spec.md §6). Body is nil for headers with no
// payload (PayloadSize == 0).
type Operation struct {
	Header Header
	Body   []byte
}

// EncodeOperation returns the CBOR tuple encoding gossiped and exchanged
// during sync.
func EncodeOperation(op Operation) ([]byte, error) {
	headerBytes, err := op.Header.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	return codec.Marshal(wireOperation{Header: headerBytes, Body: op.Body})
}

// DecodeOperation decodes the inverse of EncodeOperation.
func DecodeOperation(data []byte) (Operation, error) {
	var w wireOperation
	if err := codec.Unmarshal(data, &w); err != nil {
		return Operation{}, ErrDecode(fmt.Sprintf("decode operation frame: %v", err))
	}
	header, err := DecodeHeader(w.Header)
	if err != nil {
		return Operation{}, ErrDecode(fmt.Sprintf("decode header: %v", err))
	}
	return Operation{Header: header, Body: w.Body}, nil
}

// Verify checks header-level integrity (spec.md §4.4 step 1): signature,
// and, when a body is present, payload_hash/payload_size consistency.
func (op Operation) Verify() error {
	if err := op.Header.Verify(); err != nil {
		return err
	}
	if op.Header.PayloadHash == nil {
		if len(op.Body) != 0 {
			return ErrPayloadHashMismatch("body present but header declares no payload_hash")
		}
		return nil
	}
	if uint64(len(op.Body)) != op.Header.PayloadSize {
		return ErrPayloadHashMismatch("body length does not match payload_size")
	}
	if Sum(op.Body) != *op.Header.PayloadHash {
		return ErrPayloadHashMismatch("body hash does not match payload_hash")
	}
	return nil
}

// Id returns the operation's identity: its header's content hash.
func (op Operation) Id() (Hash, error) {
	return op.Header.Hash()
}
