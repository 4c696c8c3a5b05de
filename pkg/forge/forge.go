// Package forge implements the Forge (spec.md §4.7): turns a local
// SpacesArgs produced by the state machine into an addressable,
// content-hashed SpaceControlMessage.
package forge

import (
	"fmt"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// Forge mints SpaceControlMessages authored by self.
type Forge struct {
	self identity.ActorId
}

// New builds a Forge for the given local identity.
func New(self identity.ActorId) *Forge {
	return &Forge{self: self}
}

// Forge builds a SpaceControlMessage whose hash = content_hash(author,
// args) and whose author = self (spec.md §4.7).
func (f *Forge) Forge(args wire.SpacesArgs) (wire.SpaceControlMessage, error) {
	msg, err := wire.NewSpaceControlMessage(f.self, args)
	if err != nil {
		return wire.SpaceControlMessage{}, fmt.Errorf("forge control message: %w", err)
	}
	return msg, nil
}

// Ephemeral mints a SpaceControlMessage under a fresh, throwaway Ed25519
// identity — the variant spec.md §4.7 calls out for issuing a message
// "before the author's long-term identity is registered" (SPEC_FULL.md
// supplemented feature 3). The returned identity is the message's author;
// callers that later register the real author swap it in at that point.
func Ephemeral(args wire.SpacesArgs) (wire.SpaceControlMessage, *identity.Identity, error) {
	ephemeral, err := identity.Generate()
	if err != nil {
		return wire.SpaceControlMessage{}, nil, fmt.Errorf("generate ephemeral identity: %w", err)
	}
	msg, err := wire.NewSpaceControlMessage(ephemeral.ActorId(), args)
	if err != nil {
		return wire.SpaceControlMessage{}, nil, fmt.Errorf("forge ephemeral control message: %w", err)
	}
	return msg, ephemeral, nil
}
