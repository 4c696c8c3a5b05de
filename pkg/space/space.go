// Package space implements the Space State Machine (spec.md §4.6): the
// auth DAG with strong-remove conflict resolution, the membership
// projection derived from it, the key schedule, and the orderer that
// tracks processed operations. It is the deepest module in the system —
// every other component either feeds it control messages or reads its
// projected state.
package space

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dashchat/spaces-engine/pkg/cryptoprovider"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// ChatMessage is a decrypted Application payload delivered to the space's
// message history (spec.md §4.9, "get_messages(ChatId) -> [ChatMessage]").
type ChatMessage struct {
	OperationID wire.OperationId
	Author      identity.ActorId
	Content     []byte
}

// EventKind tags the side effects process() can emit (spec.md §4.6).
type EventKind int

const (
	// EventApplication carries a freshly decrypted chat message.
	EventApplication EventKind = iota
	// EventRemoved fires when a removal targets the local node itself.
	EventRemoved
)

// Event is one outcome of processing a SpaceControlMessage.
type Event struct {
	Kind    EventKind
	Message ChatMessage
}

type authNode struct {
	id      wire.OperationId
	subject identity.ActorId
	kind    wire.AuthControlKind
	level   wire.AccessLevel
	deps    []wire.OperationId
	depth   int
}

type keyBundleEntry struct {
	key    [32]byte
	seqNum uint64
}

// ProcessInput bundles a control message with the seq_num of the header
// that authored it. The seq_num resolves KeyBundle republication
// (SPEC_FULL.md supplemented feature 2: last-write-wins by authoring
// seq_num, not timestamp). The tie-break for concurrent SpaceUpdates does
// not use it; that compares the author's auth depth and the operation id.
type ProcessInput struct {
	Message      wire.SpaceControlMessage
	AuthorSeqNum uint64
}

// Space holds one ChatId's complete state machine. Every exported method
// except ChatId (which reads the immutable id) locks mu for its duration — the state machine's own suspension-free
// critical region (spec.md §5: "No CPU-bound region holds a lock across a
// suspension point except the space state machine's process, which is
// guarded per-space").
type Space struct {
	mu sync.Mutex

	id     wire.ChatId
	self   identity.ActorId
	crypto cryptoprovider.Crypto

	// selfKeyAgreementPrivate unseals DirectMessages addressed to self
	// when this node is admitted to the space.
	selfKeyAgreementPrivate [32]byte

	processed  map[wire.OperationId]struct{}
	authNodes  map[wire.OperationId]*authNode
	bySubject  map[identity.ActorId][]wire.OperationId
	membership map[identity.ActorId]wire.AccessLevel
	keyBundles map[identity.ActorId]keyBundleEntry

	groupSecretID wire.Hash
	groupSecret   [32]byte
	updateDepth   int // auth-depth of the author behind the last applied SpaceUpdate
	updateID      wire.OperationId

	messages []ChatMessage
	removed  bool
}

// New creates an empty Space state machine for id, owned by self.
// selfKeyAgreementPrivate is self's long-term X25519 private key, used to
// unseal DirectMessages addressed to self.
func New(id wire.ChatId, self identity.ActorId, selfKeyAgreementPrivate [32]byte, crypto cryptoprovider.Crypto) *Space {
	return &Space{
		id:                      id,
		self:                    self,
		crypto:                  crypto,
		selfKeyAgreementPrivate: selfKeyAgreementPrivate,
		processed:               make(map[wire.OperationId]struct{}),
		authNodes:               make(map[wire.OperationId]*authNode),
		bySubject:               make(map[identity.ActorId][]wire.OperationId),
		membership:              make(map[identity.ActorId]wire.AccessLevel),
		keyBundles:              make(map[identity.ActorId]keyBundleEntry),
	}
}

// ChatId returns the space's identifier.
func (s *Space) ChatId() wire.ChatId { return s.id }

// Process applies msg to the state machine, implementing spec.md §4.6's
// process(msg) -> Vec<Event>.
func (s *Space) Process(input ProcessInput) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := input.Message.ID()
	if _, dup := s.processed[id]; dup {
		return nil, wire.ErrDuplicateOperation(fmt.Sprintf("operation %s already processed", id))
	}

	var events []Event
	var err error
	switch args := input.Message.Args.(type) {
	case wire.KeyBundleArgs:
		s.processKeyBundle(input.Message.Author, args, input.AuthorSeqNum)
	case wire.AuthArgs:
		err = s.processAuth(id, args)
	case wire.SpaceMembershipArgs:
		events, err = s.processSpaceMembership(args)
	case wire.SpaceUpdateArgs:
		err = s.processSpaceUpdate(id, input.Message.Author, args)
	case wire.ApplicationArgs:
		var ev Event
		ev, err = s.processApplication(id, input.Message.Author, args)
		if err == nil {
			events = []Event{ev}
		}
	default:
		err = fmt.Errorf("unknown SpacesArgs implementation %T", args)
	}

	if err != nil {
		return nil, err
	}
	s.processed[id] = struct{}{}
	return events, nil
}

func (s *Space) processKeyBundle(author identity.ActorId, args wire.KeyBundleArgs, seqNum uint64) {
	existing, ok := s.keyBundles[author]
	if ok && existing.seqNum >= seqNum {
		return // superseded republication (supplemented feature 2)
	}
	s.keyBundles[author] = keyBundleEntry{key: args.KeyAgreementKey, seqNum: seqNum}
}

func (s *Space) processAuth(id wire.OperationId, args wire.AuthArgs) error {
	for _, dep := range args.AuthDependencies {
		if _, ok := s.authNodes[dep]; !ok {
			return wire.ErrUnexpectedMessage(fmt.Sprintf("auth dependency %s not yet materialized", dep))
		}
	}

	depth := 0
	for _, dep := range args.AuthDependencies {
		if d := s.authNodes[dep].depth + 1; d > depth {
			depth = d
		}
	}

	node := &authNode{
		id:      id,
		subject: args.Control.Subject,
		kind:    args.Control.Kind,
		level:   args.Control.Level,
		deps:    args.AuthDependencies,
		depth:   depth,
	}
	s.authNodes[id] = node
	s.bySubject[node.subject] = append(s.bySubject[node.subject], id)
	s.recomputeMembership(node.subject)
	return nil
}

// recomputeMembership resolves the auth DAG tips for subject using
// strong-remove: a revoke at a DAG tip dominates every concurrent grant
// (spec.md §4.6, "Tie-breaks").
func (s *Space) recomputeMembership(subject identity.ActorId) {
	nodeIDs := s.bySubject[subject]
	ancestors := make(map[wire.OperationId]struct{})
	for _, id := range nodeIDs {
		s.markAncestors(id, ancestors)
	}

	var revoked bool
	best := wire.AccessLevel(0)
	haveGrant := false
	for _, id := range nodeIDs {
		if _, isAncestor := ancestors[id]; isAncestor {
			continue // superseded by a causally later node for this subject
		}
		node := s.authNodes[id]
		switch node.kind {
		case wire.AuthRevoke:
			revoked = true
		case wire.AuthGrant:
			if !haveGrant || node.level > best {
				best = node.level
			}
			haveGrant = true
		}
	}

	if revoked {
		delete(s.membership, subject)
		return
	}
	if haveGrant {
		s.membership[subject] = best
		return
	}
	delete(s.membership, subject)
}

// markAncestors walks id's auth_dependencies transitively, restricted to
// nodes already present in the auth DAG, marking every node a later
// decision for the same subject causally supersedes.
func (s *Space) markAncestors(id wire.OperationId, ancestors map[wire.OperationId]struct{}) {
	node, ok := s.authNodes[id]
	if !ok {
		return
	}
	for _, dep := range node.deps {
		depNode, ok := s.authNodes[dep]
		if !ok || depNode.subject != node.subject {
			continue
		}
		if _, already := ancestors[dep]; already {
			continue
		}
		ancestors[dep] = struct{}{}
		s.markAncestors(dep, ancestors)
	}
}

func (s *Space) processSpaceMembership(args wire.SpaceMembershipArgs) ([]Event, error) {
	authNode, ok := s.authNodes[args.AuthMessageID]
	if !ok {
		return nil, wire.ErrUnexpectedMessage(fmt.Sprintf("auth_message_id %s not yet processed", args.AuthMessageID))
	}

	subject := authNode.subject
	switch authNode.kind {
	case wire.AuthRevoke:
		delete(s.membership, subject)
		if subject == s.self {
			s.removed = true
			return []Event{{Kind: EventRemoved}}, nil
		}
		return nil, nil

	case wire.AuthGrant:
		s.membership[subject] = authNode.level
		if subject != s.self {
			return nil, nil
		}
		return nil, s.admitSelf(args)

	default:
		return nil, fmt.Errorf("unknown auth control kind %d", authNode.kind)
	}
}

// admitSelf unseals the DirectMessage addressed to self to derive the
// group secret distributed on admission (spec.md §4.6,
// "SpaceMembership ... for additions, consumes the corresponding
// DirectMessage to derive the group secret").
func (s *Space) admitSelf(args wire.SpaceMembershipArgs) error {
	for _, dm := range args.DirectMessages {
		if dm.Recipient != s.self {
			continue
		}
		shared, err := s.crypto.SharedSecret(s.selfKeyAgreementPrivate, dm.EphemeralKey)
		if err != nil {
			return wire.ErrCryptoFailure(fmt.Sprintf("derive shared secret for direct message: %v", err))
		}
		plaintext, err := s.crypto.Open(shared, dm.Nonce, dm.Ciphertext, args.SpaceID[:])
		if err != nil {
			return wire.ErrCryptoFailure(fmt.Sprintf("unseal direct message: %v", err))
		}
		if len(plaintext) != len(s.groupSecret) {
			return wire.ErrCryptoFailure("unsealed group secret has unexpected length")
		}
		copy(s.groupSecret[:], plaintext)
		s.groupSecretID = args.GroupID
		return nil
	}
	return wire.ErrCryptoFailure("no direct message addressed to self in membership grant")
}

// processSpaceUpdate rotates the group secret id. Concurrent updates are
// resolved deterministically on (auth-depth, operation_id) (spec.md §4.6):
// the update authored from the deepest auth-DAG position wins, ties broken
// by the lexicographically greater operation id.
func (s *Space) processSpaceUpdate(id wire.OperationId, author identity.ActorId, args wire.SpaceUpdateArgs) error {
	depth := s.authDepthFor(author)
	if s.groupSecretID.IsZero() || depth > s.updateDepth || (depth == s.updateDepth && greaterHash(id, s.updateID)) {
		s.groupSecretID = args.GroupID
		s.updateDepth = depth
		s.updateID = id
		// The wire format carries no rekeying ciphertext for SpaceUpdate
		// (only membership grants seal key material, spec.md §4.6); the
		// rotated secret is derived deterministically from the new
		// group id so every member re-derives the same bytes without an
		// additional round trip. Documented as an Open Question decision.
		s.groupSecret = deriveUpdateSecret(args.GroupID)
	}
	return nil
}

func (s *Space) authDepthFor(author identity.ActorId) int {
	best := 0
	for _, id := range s.bySubject[author] {
		node := s.authNodes[id]
		if node.kind == wire.AuthGrant && node.depth > best {
			best = node.depth
		}
	}
	return best
}

func greaterHash(a, b wire.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func deriveUpdateSecret(groupID wire.Hash) [32]byte {
	return wire.Sum(append([]byte("space-update-secret:"), groupID[:]...))
}

func (s *Space) processApplication(id wire.OperationId, author identity.ActorId, args wire.ApplicationArgs) (Event, error) {
	if args.GroupSecretID != s.groupSecretID {
		return Event{}, wire.ErrCryptoFailure("application message references a superseded group_secret_id")
	}
	plaintext, err := s.crypto.Open(s.groupSecret, args.Nonce, args.Ciphertext, args.SpaceID[:])
	if err != nil {
		return Event{}, wire.ErrCryptoFailure(fmt.Sprintf("decrypt application payload: %v", err))
	}
	msg := ChatMessage{OperationID: id, Author: author, Content: plaintext}
	s.messages = append(s.messages, msg)
	return Event{Kind: EventApplication, Message: msg}, nil
}

// Publish encrypts content under the space's current group secret,
// yielding the ApplicationArgs a SpaceControlMessage carries (spec.md
// §4.9, "send_message ... encrypts via space publish(bytes)").
func (s *Space) Publish(content []byte, spaceDependencies []wire.OperationId) (wire.ApplicationArgs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groupSecretID.IsZero() {
		return wire.ApplicationArgs{}, wire.ErrCryptoFailure("no group secret established for space")
	}
	nonce, ciphertext, err := s.crypto.Seal(s.groupSecret, content, s.id[:])
	if err != nil {
		return wire.ApplicationArgs{}, wire.ErrCryptoFailure(fmt.Sprintf("seal application payload: %v", err))
	}
	return wire.ApplicationArgs{
		SpaceID:           s.id,
		SpaceDependencies: spaceDependencies,
		GroupSecretID:     s.groupSecretID,
		Nonce:             nonce,
		Ciphertext:        ciphertext,
	}, nil
}

// Membership returns a snapshot of the current membership projection.
func (s *Space) Membership() map[identity.ActorId]wire.AccessLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[identity.ActorId]wire.AccessLevel, len(s.membership))
	for k, v := range s.membership {
		out[k] = v
	}
	return out
}

// AccessLevel returns actor's current access level and whether they are a
// member at all.
func (s *Space) AccessLevel(actor identity.ActorId) (wire.AccessLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, ok := s.membership[actor]
	return level, ok
}

// IsRemoved reports whether the local node has observed its own removal
// (spec.md Testable Property 5).
func (s *Space) IsRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

// Messages returns the space's ordered chat message history (spec.md
// §4.9, "get_messages").
func (s *Space) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// GroupSecret returns the space's current group secret and its id, for
// sealing a fresh DirectMessage when admitting another member without
// rotating the secret (spec.md §4.9, "add_member ... producing control
// messages"). ok is false until a group secret has been set, either by the
// space processing its own admission or by a SpaceUpdate.
func (s *Space) GroupSecret() (secret [32]byte, groupSecretID wire.Hash, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupSecretID.IsZero() {
		return [32]byte{}, wire.Hash{}, false
	}
	return s.groupSecret, s.groupSecretID, true
}

// KeyBundle returns actor's currently registered X25519 prekey.
func (s *Space) KeyBundle(actor identity.ActorId) ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.keyBundles[actor]
	return entry.key, ok
}

// Members returns the sorted set of actors currently holding at least
// pull access (spec.md §4.9, "get_members(ChatId)").
func (s *Space) Members() []identity.ActorId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.ActorId, 0, len(s.membership))
	for actor := range s.membership {
		out = append(out, actor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
