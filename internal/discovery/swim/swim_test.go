package swim

import (
	"context"
	"testing"
	"time"

	"github.com/dashchat/spaces-engine/pkg/identity"
)

// MockNetworkInterface implements NetworkInterface for testing.
type MockNetworkInterface struct {
	sentMessages []MockMessage
}

type MockMessage struct {
	Target *Member
	Frame  Frame
}

func NewMockNetworkInterface() *MockNetworkInterface {
	return &MockNetworkInterface{sentMessages: make([]MockMessage, 0)}
}

func (m *MockNetworkInterface) SendMessage(ctx context.Context, target *Member, frame Frame) error {
	m.sentMessages = append(m.sentMessages, MockMessage{Target: target, Frame: frame})
	return nil
}

func (m *MockNetworkInterface) BroadcastMessage(ctx context.Context, frame Frame) error {
	m.sentMessages = append(m.sentMessages, MockMessage{Target: nil, Frame: frame})
	return nil
}

func (m *MockNetworkInterface) GetSentMessages() []MockMessage {
	return m.sentMessages
}

func (m *MockNetworkInterface) ClearMessages() {
	m.sentMessages = make([]MockMessage, 0)
}

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func TestNewSWIM(t *testing.T) {
	id := mustIdentity(t)
	network := NewMockNetworkInterface()

	config := &Config{
		Identity:         id,
		NetworkID:        "test-network",
		Network:          network,
		BindAddr:         "/ip4/127.0.0.1/tcp/27487",
		ProbeInterval:    1 * time.Second,
		PingTimeout:      500 * time.Millisecond,
		IndirectTimeout:  1 * time.Second,
		SuspicionTimeout: 5 * time.Second,
	}

	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.localMember.Actor != id.ActorId() {
		t.Errorf("expected local member actor %s, got %s", id.ActorId(), s.localMember.Actor)
	}
	if s.networkID != "test-network" {
		t.Errorf("expected network id 'test-network', got %s", s.networkID)
	}
}

func TestSWIMAddMember(t *testing.T) {
	id := mustIdentity(t)
	network := NewMockNetworkInterface()

	s, err := New(&Config{Identity: id, NetworkID: "test-network", Network: network, BindAddr: "/ip4/127.0.0.1/tcp/27487"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	memberActor := mustIdentity(t).ActorId()
	memberAddrs := []string{"/ip4/192.168.1.100/tcp/27487"}

	if err := s.AddMember(memberActor, memberAddrs); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	member := s.GetMember(memberActor)
	if member == nil {
		t.Fatal("member was not added to the membership list")
	}
	if member.Actor != memberActor {
		t.Errorf("expected member actor %s, got %s", memberActor, member.Actor)
	}
	if !member.IsAlive() {
		t.Error("new member should be alive")
	}
}

func TestSWIMPingMember(t *testing.T) {
	id := mustIdentity(t)
	network := NewMockNetworkInterface()

	s, err := New(&Config{Identity: id, NetworkID: "test-network", Network: network, BindAddr: "/ip4/127.0.0.1/tcp/27487", PingTimeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	memberActor := mustIdentity(t).ActorId()
	if err := s.AddMember(memberActor, []string{"/ip4/192.168.1.100/tcp/27487"}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	member := s.GetMember(memberActor)
	if member == nil {
		t.Fatal("member not found")
	}

	if err := s.PingMember(context.Background(), member); err != nil {
		t.Fatalf("PingMember: %v", err)
	}

	messages := network.GetSentMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.Target.Actor != memberActor {
		t.Errorf("expected message target %s, got %s", memberActor, msg.Target.Actor)
	}
	if msg.Frame.Kind != FramePing {
		t.Errorf("expected frame kind FramePing, got %v", msg.Frame.Kind)
	}
}

func TestSWIMHandleMessage(t *testing.T) {
	id := mustIdentity(t)
	network := NewMockNetworkInterface()

	s, err := New(&Config{Identity: id, NetworkID: "test-network", Network: network, BindAddr: "/ip4/127.0.0.1/tcp/27487"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	senderActor := mustIdentity(t).ActorId()
	if err := s.AddMember(senderActor, []string{"/ip4/192.168.1.200/tcp/27487"}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	pingFrame := Frame{Kind: FramePing, From: senderActor, Seq: 1, PingSeq: 12345}

	if err := s.HandleMessage(context.Background(), pingFrame); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	messages := network.GetSentMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 response message, got %d", len(messages))
	}
	if messages[0].Frame.Kind != FrameAck {
		t.Errorf("expected response kind FrameAck, got %v", messages[0].Frame.Kind)
	}
}
