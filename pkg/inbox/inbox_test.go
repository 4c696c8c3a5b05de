package inbox

import (
	"bytes"
	"testing"

	"github.com/dashchat/spaces-engine/pkg/authorstore"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

type recordingHandler struct {
	initialized []wire.ChatId
	friends     []identity.ActorId
}

func (h *recordingHandler) InitializeGroup(chatID wire.ChatId) error {
	h.initialized = append(h.initialized, chatID)
	return nil
}

func (h *recordingHandler) FriendRequested(from identity.ActorId) {
	h.friends = append(h.friends, from)
}

func mustID(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func TestProcessJoinGroupInvitesOwner(t *testing.T) {
	owner := mustID(t)
	author := mustID(t)
	chatID, err := wire.ChatIdFromBytes(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("ChatIdFromBytes: %v", err)
	}
	handler := &recordingHandler{}

	err = Process(owner.ActorId(), wire.InboxTopic(owner.ActorId()), author.ActorId(),
		wire.InvitationPayload(wire.JoinGroupInvitation(chatID)), handler)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handler.initialized) != 1 || handler.initialized[0] != chatID {
		t.Fatalf("expected InitializeGroup(%v), got %v", chatID, handler.initialized)
	}
}

func TestProcessFriendIsAdvisory(t *testing.T) {
	owner := mustID(t)
	author := mustID(t)
	handler := &recordingHandler{}

	err := Process(owner.ActorId(), wire.InboxTopic(owner.ActorId()), author.ActorId(),
		wire.InvitationPayload(wire.FriendInvitation()), handler)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handler.friends) != 1 || handler.friends[0] != author.ActorId() {
		t.Fatalf("expected FriendRequested(%v), got %v", author.ActorId(), handler.friends)
	}
}

func TestProcessIgnoresNonOwnedInbox(t *testing.T) {
	owner := mustID(t)
	other := mustID(t)
	author := mustID(t)
	chatID, _ := wire.ChatIdFromBytes(bytes.Repeat([]byte{2}, 32))
	handler := &recordingHandler{}

	// self != other: this inbox belongs to someone else, so Process must
	// be a no-op (spec.md Testable Property 6, "Inbox isolation").
	err := Process(other.ActorId(), wire.InboxTopic(owner.ActorId()), author.ActorId(),
		wire.InvitationPayload(wire.JoinGroupInvitation(chatID)), handler)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(handler.initialized) != 0 {
		t.Fatalf("expected no side effects for a non-owned inbox, got %v", handler.initialized)
	}
}

func TestRegisterBootstrapAddsSelfUnderPeerInbox(t *testing.T) {
	authors := authorstore.New()
	self := mustID(t).ActorId()
	peer := mustID(t).ActorId()

	RegisterBootstrap(authors, self, peer)

	if !authors.Has(wire.InboxTopic(peer), self) {
		t.Fatal("expected self registered as an author under peer's inbox topic")
	}
}
