package wire

import (
	"bytes"
	"testing"
)

func TestPayloadRoundTripSpaceControl(t *testing.T) {
	id := mustIdentity(t)
	msg, err := NewSpaceControlMessage(id.ActorId(), KeyBundleArgs{KeyAgreementKey: [32]byte{1}})
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	p := SpaceControlPayload(msg)

	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Type != PayloadSpaceControl {
		t.Fatalf("expected PayloadSpaceControl, got %v", decoded.Type)
	}
	if len(decoded.SpaceControl) != 1 || decoded.SpaceControl[0].Hash != msg.Hash {
		t.Fatal("space control batch mismatch after round trip")
	}
}

func TestPayloadRoundTripInvitationJoinGroup(t *testing.T) {
	chatID, _ := ChatIdFromBytes(bytes.Repeat([]byte{2}, 32))
	p := InvitationPayload(JoinGroupInvitation(chatID))

	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Type != PayloadInvitation {
		t.Fatalf("expected PayloadInvitation, got %v", decoded.Type)
	}
	if decoded.Invitation.Kind != InvitationJoinGroup || decoded.Invitation.ChatId != chatID {
		t.Fatal("join group invitation mismatch after round trip")
	}
}

func TestPayloadRoundTripInvitationFriend(t *testing.T) {
	p := InvitationPayload(FriendInvitation())

	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.Invitation.Kind != InvitationFriend {
		t.Fatal("expected Friend invitation kind after round trip")
	}
}

func TestOperationEncodeDecodeAndVerify(t *testing.T) {
	id := mustIdentity(t)
	chatID, _ := ChatIdFromBytes(bytes.Repeat([]byte{5}, 32))
	body := []byte("op-body")
	payloadHash := Sum(body)

	h := Header{
		Version:     ProtocolVersion,
		PublicKey:   id.ActorId(),
		PayloadSize: uint64(len(body)),
		PayloadHash: &payloadHash,
		Timestamp:   1700000001,
		SeqNum:      0,
		Extensions:  Extensions{Topic: ChatTopic(chatID)},
	}
	if err := h.Sign(id); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	op := Operation{Header: h, Body: body}

	encoded, err := EncodeOperation(op)
	if err != nil {
		t.Fatalf("EncodeOperation: %v", err)
	}
	decoded, err := DecodeOperation(encoded)
	if err != nil {
		t.Fatalf("DecodeOperation: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !bytes.Equal(decoded.Body, body) {
		t.Error("body mismatch after round trip")
	}
}

func TestOperationVerifyRejectsPayloadHashMismatch(t *testing.T) {
	id := mustIdentity(t)
	chatID, _ := ChatIdFromBytes(bytes.Repeat([]byte{6}, 32))
	body := []byte("real-body")
	payloadHash := Sum(body)

	h := Header{
		Version:     ProtocolVersion,
		PublicKey:   id.ActorId(),
		PayloadSize: uint64(len(body)),
		PayloadHash: &payloadHash,
		Timestamp:   1700000002,
		Extensions:  Extensions{Topic: ChatTopic(chatID)},
	}
	if err := h.Sign(id); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	op := Operation{Header: h, Body: []byte("tampered-body")}

	if err := op.Verify(); !IsCode(err, ErrorCodePayloadHashMismatch) {
		t.Fatalf("expected PayloadHashMismatch, got %v", err)
	}
}
