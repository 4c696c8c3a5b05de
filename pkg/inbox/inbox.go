// Package inbox implements the Inbox / Invitation Plane (spec.md §4.8):
// each actor owns the topic Inbox(self) and only its owner processes the
// invitations gossiped there, plus the bootstrap registration that lets a
// peer who has never heard of us still receive our invitations.
package inbox

import (
	"fmt"

	"github.com/dashchat/spaces-engine/pkg/authorstore"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// Handler reacts to invitations processed from the local inbox.
type Handler interface {
	// InitializeGroup subscribes to and creates empty local state for
	// chatID (spec.md §4.8: "subscribe + create empty chat state");
	// subsequent sync on Chat(chatID) transfers the history.
	InitializeGroup(chatID wire.ChatId) error
	// FriendRequested surfaces an advisory reciprocal add request from
	// the given actor (spec.md §4.8: "Friend is advisory").
	FriendRequested(from identity.ActorId)
}

// Process handles one operation observed on an Inbox topic. Only the
// inbox owner processes its payloads (spec.md §4.8, Testable Property 6
// "Inbox isolation"); operations on an inbox belonging to any other actor
// produce no side effects beyond storage and Process is a no-op.
func Process(self identity.ActorId, topic wire.Topic, author identity.ActorId, payload wire.Payload, handler Handler) error {
	owner, ok := topic.InboxOwner()
	if !ok || owner != self {
		return nil
	}
	if payload.Type != wire.PayloadInvitation {
		return fmt.Errorf("unexpected payload type %v on inbox topic", payload.Type)
	}

	switch payload.Invitation.Kind {
	case wire.InvitationJoinGroup:
		return handler.InitializeGroup(payload.Invitation.ChatId)
	case wire.InvitationFriend:
		handler.FriendRequested(author)
		return nil
	default:
		return fmt.Errorf("unknown invitation kind %d", payload.Invitation.Kind)
	}
}

// RegisterBootstrap registers self as an author under peer's inbox topic
// (spec.md §4.8, "Bootstrap ordering"): whenever discovery yields a new
// peer, the sync protocol then advertises our Inbox(peer) log whenever
// peer opens a sync session for that topic, delivering any invitation we
// queue for them even though they have never heard of us.
func RegisterBootstrap(authors *authorstore.AuthorStore, self, peer identity.ActorId) {
	authors.Add(wire.InboxTopic(peer), self)
}
