package node

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dashchat/spaces-engine/pkg/gossipsync"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// mockNetwork routes gossipsync.Frame values directly between Nodes
// registered in the same test, standing in for pkg/transport the way
// internal/discovery's MockNetwork stands in for the real QUIC/TCP layer.
type mockNetwork struct {
	nodes map[identity.ActorId]*Node
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{nodes: make(map[identity.ActorId]*Node)}
}

func (m *mockNetwork) register(actor identity.ActorId, n *Node) {
	m.nodes[actor] = n
}

func (m *mockNetwork) Send(ctx context.Context, target identity.ActorId, frame gossipsync.Frame) error {
	n, ok := m.nodes[target]
	if !ok {
		return nil
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = n.HandleFrame(ctx, frame)
	}()
	return nil
}

func (m *mockNetwork) Broadcast(ctx context.Context, frame gossipsync.Frame) error {
	for actor, n := range m.nodes {
		if actor == frame.From {
			continue
		}
		target := n
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = target.HandleFrame(ctx, frame)
		}()
	}
	return nil
}

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func mustNode(t *testing.T, id *identity.Identity, net *mockNetwork) *Node {
	t.Helper()
	n, err := New(Config{Identity: id, Network: net})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	net.register(id.ActorId(), n)
	return n
}

func TestCreateGroupAndSendMessageSingleNode(t *testing.T) {
	net := newMockNetwork()
	self := mustNode(t, mustIdentity(t), net)

	ctx := context.Background()
	if err := self.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer self.Stop()

	chatID, err := self.CreateGroup(ctx)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	groups := self.GetGroups()
	if len(groups) != 1 || groups[0] != chatID {
		t.Fatalf("expected one group %s, got %v", chatID, groups)
	}

	if _, err := self.SendMessage(ctx, chatID, []byte("hello")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs, err := self.GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Content, []byte("hello")) {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestFriendGroupMembershipConverges(t *testing.T) {
	net := newMockNetwork()
	idA := mustIdentity(t)
	idB := mustIdentity(t)
	a := mustNode(t, idA, net)
	b := mustNode(t, idB, net)

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop()

	if err := a.AddFriend(ctx, Member{Actor: idB.ActorId(), KeyAgreementPublicKey: idB.KeyAgreementPublicKey}, "bob"); err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	friendsOfB := b.GetFriends()
	if len(friendsOfB) != 1 || friendsOfB[0].Actor != idA.ActorId() {
		t.Fatalf("expected B to have learned of A as a friend, got %+v", friendsOfB)
	}

	chatID, err := a.CreateGroup(ctx)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := a.AddMember(ctx, chatID, idB.ActorId(), wire.AccessWrite); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	groupsOfB := b.GetGroups()
	if len(groupsOfB) != 1 || groupsOfB[0] != chatID {
		t.Fatalf("expected B to have joined group %s, got %v", chatID, groupsOfB)
	}

	membersOfA, err := a.GetMembers(chatID)
	if err != nil {
		t.Fatalf("a.GetMembers: %v", err)
	}
	if len(membersOfA) != 2 {
		t.Fatalf("expected 2 members from A's view, got %v", membersOfA)
	}

	const content = "hi from a"
	if _, err := a.SendMessage(ctx, chatID, []byte(content)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	msgsB, err := b.GetMessages(chatID)
	if err != nil {
		t.Fatalf("b.GetMessages: %v", err)
	}
	if len(msgsB) != 1 || !bytes.Equal(msgsB[0].Content, []byte(content)) {
		t.Fatalf("expected B to have decrypted A's message, got %+v", msgsB)
	}
	if msgsB[0].Author != idA.ActorId() {
		t.Errorf("expected message author %s, got %s", idA.ActorId(), msgsB[0].Author)
	}
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	a := mustNode(t, mustIdentity(t), newMockNetwork())
	outsider := mustNode(t, mustIdentity(t), newMockNetwork())

	ctx := context.Background()
	chatID, err := a.CreateGroup(ctx)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if _, err := outsider.SendMessage(ctx, chatID, []byte("nope")); err == nil {
		t.Fatal("expected SendMessage from a non-member to fail")
	} else if !wire.IsCode(err, wire.ErrorCodeUnknownChat) {
		t.Errorf("expected ErrorCodeUnknownChat, got %v", err)
	}
}
