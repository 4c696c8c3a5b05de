package space

import (
	"bytes"
	"testing"

	"github.com/dashchat/spaces-engine/pkg/cryptoprovider"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

func mustID(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func testChatId(t *testing.T) wire.ChatId {
	t.Helper()
	id, err := wire.ChatIdFromBytes(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("ChatIdFromBytes: %v", err)
	}
	return id
}

func TestProcessAuthGrantEstablishesMembership(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	s := New(chatID, manager.ActorId(), [32]byte{}, cryptoprovider.New())

	grant := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: manager.ActorId(), Level: wire.AccessManage}}
	msg, err := wire.NewSpaceControlMessage(manager.ActorId(), grant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}

	if _, err := s.Process(ProcessInput{Message: msg, AuthorSeqNum: 0}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	level, ok := s.AccessLevel(manager.ActorId())
	if !ok || level != wire.AccessManage {
		t.Fatalf("expected manager to hold manage access, got level=%v ok=%v", level, ok)
	}
}

func TestProcessDuplicateIsRejected(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	s := New(chatID, manager.ActorId(), [32]byte{}, cryptoprovider.New())

	grant := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: manager.ActorId(), Level: wire.AccessManage}}
	msg, err := wire.NewSpaceControlMessage(manager.ActorId(), grant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: msg}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: msg}); !wire.IsCode(err, wire.ErrorCodeDuplicateOperation) {
		t.Fatalf("expected DuplicateOperation, got %v", err)
	}
}

func TestStrongRemoveDominatesConcurrentGrant(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	member := mustID(t)
	s := New(chatID, manager.ActorId(), [32]byte{}, cryptoprovider.New())

	grant := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: member.ActorId(), Level: wire.AccessWrite}}
	grantMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), grant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: grantMsg}); err != nil {
		t.Fatalf("Process grant: %v", err)
	}

	// A concurrent revoke (no dependency on the grant) must dominate it.
	revoke := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthRevoke, Subject: member.ActorId()}}
	revokeMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), revoke)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: revokeMsg}); err != nil {
		t.Fatalf("Process revoke: %v", err)
	}

	if _, ok := s.AccessLevel(member.ActorId()); ok {
		t.Fatal("expected concurrent revoke to dominate the grant, leaving subject unauthorized")
	}
}

func TestReGrantAfterRevokeSupersedesIt(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	member := mustID(t)
	s := New(chatID, manager.ActorId(), [32]byte{}, cryptoprovider.New())

	revoke := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthRevoke, Subject: member.ActorId()}}
	revokeMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), revoke)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: revokeMsg}); err != nil {
		t.Fatalf("Process revoke: %v", err)
	}

	regrant := wire.AuthArgs{
		Control:          wire.AuthControl{Kind: wire.AuthGrant, Subject: member.ActorId(), Level: wire.AccessRead},
		AuthDependencies: []wire.OperationId{revokeMsg.ID()},
	}
	regrantMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), regrant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: regrantMsg}); err != nil {
		t.Fatalf("Process regrant: %v", err)
	}

	level, ok := s.AccessLevel(member.ActorId())
	if !ok || level != wire.AccessRead {
		t.Fatalf("expected re-grant after acknowledged revoke to win, got level=%v ok=%v", level, ok)
	}
}

func TestKeyBundleRotationIsLastWriteWinsBySeqNum(t *testing.T) {
	chatID := testChatId(t)
	owner := mustID(t)
	s := New(chatID, owner.ActorId(), [32]byte{}, cryptoprovider.New())

	first, err := wire.NewSpaceControlMessage(owner.ActorId(), wire.KeyBundleArgs{KeyAgreementKey: [32]byte{1}})
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: first, AuthorSeqNum: 5}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	stale, err := wire.NewSpaceControlMessage(owner.ActorId(), wire.KeyBundleArgs{KeyAgreementKey: [32]byte{2}})
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	// Lower seq_num than the already-applied bundle: must not overwrite.
	if _, err := s.Process(ProcessInput{Message: stale, AuthorSeqNum: 2}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	key, ok := s.KeyBundle(owner.ActorId())
	if !ok || key != ([32]byte{1}) {
		t.Fatalf("expected key bundle to remain the higher-seq_num value, got %v", key)
	}
}

func TestAdmissionDecryptsGroupSecretAndApplicationRoundTrips(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	member := mustID(t)
	crypto := cryptoprovider.New()

	memberKeyAgreementPub, memberKeyAgreementPriv, err := crypto.GenerateKeyAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateKeyAgreementKeypair: %v", err)
	}

	managerSpace := New(chatID, manager.ActorId(), [32]byte{}, crypto)
	memberSpace := New(chatID, member.ActorId(), memberKeyAgreementPriv, crypto)

	grant := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: member.ActorId(), Level: wire.AccessWrite}}
	grantMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), grant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	for _, s := range []*Space{managerSpace, memberSpace} {
		if _, err := s.Process(ProcessInput{Message: grantMsg}); err != nil {
			t.Fatalf("Process grant: %v", err)
		}
	}

	groupID := wire.Sum([]byte("group-secret-1"))
	var groupSecret [32]byte
	copy(groupSecret[:], bytes.Repeat([]byte{0x42}, 32))

	ephemeralPub, ephemeralPriv, err := crypto.GenerateKeyAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateKeyAgreementKeypair: %v", err)
	}
	shared, err := crypto.SharedSecret(ephemeralPriv, memberKeyAgreementPub)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	nonce, ciphertext, err := crypto.Seal(shared, groupSecret[:], chatID[:])
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	membershipArgs := wire.SpaceMembershipArgs{
		SpaceID:       chatID,
		GroupID:       groupID,
		AuthMessageID: grantMsg.ID(),
		DirectMessages: []wire.DirectMessage{
			{Recipient: member.ActorId(), EphemeralKey: ephemeralPub, Nonce: nonce, Ciphertext: ciphertext},
		},
	}
	membershipMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), membershipArgs)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	for _, s := range []*Space{managerSpace, memberSpace} {
		if _, err := s.Process(ProcessInput{Message: membershipMsg}); err != nil {
			t.Fatalf("Process membership: %v", err)
		}
	}

	// managerSpace holds no group secret, since the manager did not go
	// through admitSelf (not in this DirectMessages batch), so
	// Publish/decrypt symmetry is exercised via memberSpace only.
	memberSpace.mu.Lock()
	memberSecret := memberSpace.groupSecret
	memberSecretID := memberSpace.groupSecretID
	memberSpace.mu.Unlock()
	if memberSecret != groupSecret {
		t.Fatalf("expected member to derive the sealed group secret, got %v", memberSecret)
	}
	if memberSecretID != groupID {
		t.Fatalf("expected member's group_secret_id to equal %v, got %v", groupID, memberSecretID)
	}

	appArgs, err := memberSpace.Publish([]byte("hello space"), nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	appMsg, err := wire.NewSpaceControlMessage(member.ActorId(), appArgs)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	events, err := memberSpace.Process(ProcessInput{Message: appMsg})
	if err != nil {
		t.Fatalf("Process application: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventApplication {
		t.Fatalf("expected one EventApplication, got %+v", events)
	}
	if string(events[0].Message.Content) != "hello space" {
		t.Fatalf("unexpected decrypted content: %q", events[0].Message.Content)
	}

	msgs := memberSpace.Messages()
	if len(msgs) != 1 || string(msgs[0].Content) != "hello space" {
		t.Fatalf("unexpected message history: %+v", msgs)
	}
}

func TestRemovalOfSelfEmitsRemovedEvent(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	member := mustID(t)
	crypto := cryptoprovider.New()
	memberSpace := New(chatID, member.ActorId(), [32]byte{}, crypto)

	grant := wire.AuthArgs{Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: member.ActorId(), Level: wire.AccessRead}}
	grantMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), grant)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := memberSpace.Process(ProcessInput{Message: grantMsg}); err != nil {
		t.Fatalf("Process grant: %v", err)
	}

	revoke := wire.AuthArgs{
		Control:          wire.AuthControl{Kind: wire.AuthRevoke, Subject: member.ActorId()},
		AuthDependencies: []wire.OperationId{grantMsg.ID()},
	}
	revokeMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), revoke)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := memberSpace.Process(ProcessInput{Message: revokeMsg}); err != nil {
		t.Fatalf("Process revoke: %v", err)
	}

	removalArgs := wire.SpaceMembershipArgs{SpaceID: chatID, AuthMessageID: revokeMsg.ID()}
	removalMsg, err := wire.NewSpaceControlMessage(manager.ActorId(), removalArgs)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	events, err := memberSpace.Process(ProcessInput{Message: removalMsg})
	if err != nil {
		t.Fatalf("Process removal: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventRemoved {
		t.Fatalf("expected EventRemoved, got %+v", events)
	}
	if !memberSpace.IsRemoved() {
		t.Fatal("expected IsRemoved to be true after self-removal")
	}
}

func TestSpaceMembershipUnknownAuthMessageIsUnexpected(t *testing.T) {
	chatID := testChatId(t)
	manager := mustID(t)
	s := New(chatID, manager.ActorId(), [32]byte{}, cryptoprovider.New())

	bogus := wire.SpaceMembershipArgs{SpaceID: chatID, AuthMessageID: wire.Sum([]byte("never-processed"))}
	msg, err := wire.NewSpaceControlMessage(manager.ActorId(), bogus)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if _, err := s.Process(ProcessInput{Message: msg}); !wire.IsCode(err, wire.ErrorCodeUnexpectedMessage) {
		t.Fatalf("expected UnexpectedMessage, got %v", err)
	}
}
