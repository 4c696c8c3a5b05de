package forge

import (
	"testing"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

func TestForgeSetsAuthorAndContentHash(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f := New(id.ActorId())

	args := wire.KeyBundleArgs{KeyAgreementKey: [32]byte{9}}
	msg, err := f.Forge(args)
	if err != nil {
		t.Fatalf("Forge: %v", err)
	}
	if msg.Author != id.ActorId() {
		t.Error("expected forged message author to equal self")
	}

	want, err := wire.NewSpaceControlMessage(id.ActorId(), args)
	if err != nil {
		t.Fatalf("NewSpaceControlMessage: %v", err)
	}
	if msg.Hash != want.Hash {
		t.Error("expected forged hash to equal content_hash(author, args)")
	}
}

func TestEphemeralUsesFreshIdentity(t *testing.T) {
	args := wire.KeyBundleArgs{KeyAgreementKey: [32]byte{3}}
	msg, ephemeral, err := Ephemeral(args)
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	if msg.Author != ephemeral.ActorId() {
		t.Error("expected ephemeral message's author to equal the minted identity")
	}

	msg2, ephemeral2, err := Ephemeral(args)
	if err != nil {
		t.Fatalf("Ephemeral: %v", err)
	}
	if ephemeral.ActorId() == ephemeral2.ActorId() {
		t.Error("expected two Ephemeral calls to mint distinct identities")
	}
	if msg.Hash == msg2.Hash {
		t.Error("expected distinct ephemeral identities to produce distinct content hashes")
	}
}
