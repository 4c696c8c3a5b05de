package wire

import (
	"fmt"

	"github.com/dashchat/spaces-engine/pkg/identity"
)

// ArgType tags which SpacesArgs variant a control message carries
// (spec.md §3). Mirrors the teacher's Kind-tagged wire bodies
// (pkg/wire's former PingBody/PongBody/... dispatch) generalized to a
// Go interface instead of a bare uint16 + struct{} switch, since here the
// decoder must reconstruct a concrete Go type, not just branch on a kind.
type ArgType uint8

const (
	ArgKeyBundle ArgType = iota
	ArgAuth
	ArgSpaceMembership
	ArgSpaceUpdate
	ArgApplication
)

func (t ArgType) String() string {
	switch t {
	case ArgKeyBundle:
		return "KeyBundle"
	case ArgAuth:
		return "Auth"
	case ArgSpaceMembership:
		return "SpaceMembership"
	case ArgSpaceUpdate:
		return "SpaceUpdate"
	case ArgApplication:
		return "Application"
	default:
		return fmt.Sprintf("ArgType(%d)", uint8(t))
	}
}

// AccessLevel is the access-control lattice used by the auth DAG
// (spec.md §4.6: "pull | read | write | manage"), ordered weakest to
// strongest so a grant at one level can be checked against a required
// minimum with a single integer comparison.
type AccessLevel uint8

const (
	AccessPull AccessLevel = iota
	AccessRead
	AccessWrite
	AccessManage
)

func (l AccessLevel) String() string {
	switch l {
	case AccessPull:
		return "pull"
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessManage:
		return "manage"
	default:
		return fmt.Sprintf("AccessLevel(%d)", uint8(l))
	}
}

// Satisfies reports whether l grants at least the required access level.
func (l AccessLevel) Satisfies(required AccessLevel) bool {
	return l >= required
}

// AuthControlKind distinguishes a grant from a revoke in an Auth update.
type AuthControlKind uint8

const (
	AuthGrant AuthControlKind = iota
	AuthRevoke
)

// AuthControl is the grant/revoke instruction carried by an Auth message.
// Level is meaningful only for AuthGrant.
type AuthControl struct {
	Kind    AuthControlKind
	Subject identity.ActorId
	Level   AccessLevel
}

// SpacesArgs is the tagged union of control-message intents
// (spec.md §3): KeyBundle | Auth | SpaceMembership | SpaceUpdate |
// Application.
type SpacesArgs interface {
	Type() ArgType
	// Dependencies returns the OperationIds that must be processed by the
	// space state machine before this message (spec.md Invariant 4).
	Dependencies() []OperationId
}

// KeyBundleArgs publishes the author's long-term X25519 prekey.
type KeyBundleArgs struct {
	KeyAgreementKey [32]byte
}

func (KeyBundleArgs) Type() ArgType              { return ArgKeyBundle }
func (KeyBundleArgs) Dependencies() []OperationId { return nil }

// AuthArgs updates the authorization DAG with a grant or revoke.
type AuthArgs struct {
	Control          AuthControl
	AuthDependencies []OperationId
}

func (a AuthArgs) Type() ArgType              { return ArgAuth }
func (a AuthArgs) Dependencies() []OperationId { return a.AuthDependencies }

// DirectMessage seals the current group secret to a new member's
// long-term prekey (spec.md GLOSSARY "Direct message (sealed)").
type DirectMessage struct {
	Recipient    identity.ActorId
	EphemeralKey [32]byte
	Nonce        [12]byte
	Ciphertext   []byte
}

// SpaceMembershipArgs admits or removes a member and, for additions,
// delivers the sealed group secret via DirectMessages.
type SpaceMembershipArgs struct {
	SpaceID           ChatId
	GroupID           Hash
	SpaceDependencies []OperationId
	AuthMessageID     OperationId
	DirectMessages    []DirectMessage
}

func (a SpaceMembershipArgs) Type() ArgType { return ArgSpaceMembership }

func (a SpaceMembershipArgs) Dependencies() []OperationId {
	deps := make([]OperationId, 0, len(a.SpaceDependencies)+1)
	deps = append(deps, a.AuthMessageID)
	deps = append(deps, a.SpaceDependencies...)
	return deps
}

// SpaceUpdateArgs rotates the space's group secret.
type SpaceUpdateArgs struct {
	SpaceID           ChatId
	GroupID           Hash
	SpaceDependencies []OperationId
}

func (a SpaceUpdateArgs) Type() ArgType              { return ArgSpaceUpdate }
func (a SpaceUpdateArgs) Dependencies() []OperationId { return a.SpaceDependencies }

// ApplicationArgs carries an application (chat) message encrypted under
// the space's current group secret.
type ApplicationArgs struct {
	SpaceID           ChatId
	SpaceDependencies []OperationId
	GroupSecretID     Hash
	Nonce             [12]byte
	Ciphertext        []byte
}

func (a ApplicationArgs) Type() ArgType              { return ArgApplication }
func (a ApplicationArgs) Dependencies() []OperationId { return a.SpaceDependencies }
