// Package node implements the Node Orchestrator (spec.md §4.9): the single
// entry point wiring the operation store, author store, ingester, space
// dependency map, authorer, forge, inbox, and gossip/sync bridge into the
// user-visible operations (create_group, add_member, add_friend,
// send_message, get_messages, get_groups, get_friends, get_members).
package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/dashchat/spaces-engine/pkg/author"
	"github.com/dashchat/spaces-engine/pkg/authorstore"
	"github.com/dashchat/spaces-engine/pkg/cryptoprovider"
	"github.com/dashchat/spaces-engine/pkg/forge"
	"github.com/dashchat/spaces-engine/pkg/gossipsync"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/inbox"
	"github.com/dashchat/spaces-engine/pkg/ingest"
	"github.com/dashchat/spaces-engine/pkg/space"
	"github.com/dashchat/spaces-engine/pkg/store"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// Member is the out-of-band exchanged identifier spec.md §6 calls
// `MemberCode`: an actor's long-term signing identity plus the X25519
// prekey needed to seal a DirectMessage to them before they have ever
// published a KeyBundle of their own.
type Member struct {
	Actor                 identity.ActorId
	KeyAgreementPublicKey [32]byte
}

// Friend is the advisory peer-bookkeeping entity spec.md §3 names and
// SPEC_FULL.md's supplemented features flesh out: a registered prekey plus
// a local nickname, independent of any shared space.
type Friend struct {
	Actor                 identity.ActorId
	Nickname              string
	KeyAgreementPublicKey [32]byte
}

// Config configures a Node.
type Config struct {
	Identity *identity.Identity
	// Network carries gossip/sync frames to other actors; see
	// pkg/gossipsync.Network. Typically backed by pkg/transport.
	Network gossipsync.Network
	// Crypto overrides the default X25519/ChaCha20-Poly1305 provider.
	Crypto cryptoprovider.Crypto
	// IngestCapacity bounds the dependency park buffer; zero uses
	// ingest.DefaultBufferCapacity.
	IngestCapacity int
	Gossip         gossipsync.Config
}

// Node is the Node Orchestrator: one running actor's complete local state
// and the operations exposed to a caller (CLI, control API, tests).
// Per spec.md §5, the store/authorstore/spaces/friends maps are shared
// resources behind their own locks; Node's own mutex guards only the
// spaces and friends maps and the per-chat auth bookkeeping, never an I/O
// suspension point.
type Node struct {
	identity *identity.Identity
	crypto   cryptoprovider.Crypto

	store    store.OperationStore
	authors  *authorstore.AuthorStore
	ingester *ingest.Ingester
	deps     *author.SpaceDepMap
	authorer *author.Authorer
	forge    *forge.Forge
	gossip   *gossipsync.Gossip

	mu            sync.RWMutex
	spaces        map[wire.ChatId]*space.Space
	friends       map[identity.ActorId]*Friend
	selfAuthGrant map[wire.ChatId]wire.OperationId
}

// New wires a Node's collaborators from cfg and subscribes to the local
// actor's own inbox, so invitations addressed to it can be received from
// the first gossip round.
func New(cfg Config) (*Node, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("network is required")
	}

	crypto := cfg.Crypto
	if crypto == nil {
		crypto = cryptoprovider.New()
	}

	st := store.NewMemoryStore()
	authors := authorstore.New()
	ingester := ingest.New(st, authors, ingest.Config{Capacity: cfg.IngestCapacity})
	deps := author.NewSpaceDepMap()
	authorer := author.New(cfg.Identity, st, ingester, deps)
	frg := forge.New(cfg.Identity.ActorId())

	n := &Node{
		identity:      cfg.Identity,
		crypto:        crypto,
		store:         st,
		authors:       authors,
		ingester:      ingester,
		deps:          deps,
		authorer:      authorer,
		forge:         frg,
		spaces:        make(map[wire.ChatId]*space.Space),
		friends:       make(map[identity.ActorId]*Friend),
		selfAuthGrant: make(map[wire.ChatId]wire.OperationId),
	}

	gossipCfg := cfg.Gossip
	gossipCfg.Self = cfg.Identity.ActorId()
	gossipCfg.Network = cfg.Network
	gossipCfg.Responder = &storeSyncResponder{store: st, authors: authors}
	gossipCfg.Lookup = &storeOperationLookup{store: st}
	g, err := gossipsync.New(gossipCfg)
	if err != nil {
		return nil, fmt.Errorf("build gossip: %w", err)
	}
	n.gossip = g

	selfInbox := wire.InboxTopic(cfg.Identity.ActorId())
	authors.Add(selfInbox, cfg.Identity.ActorId())
	g.Subscribe(selfInbox)

	return n, nil
}

// Start begins the gossip heartbeat and cleanup loops.
func (n *Node) Start(ctx context.Context) error {
	return n.gossip.Start(ctx)
}

// Stop tears down background loops.
func (n *Node) Stop() {
	n.gossip.Stop()
}

// Identity returns the local actor's identity.
func (n *Node) Identity() *identity.Identity { return n.identity }

// RegisterDiscoveredPeer registers self as a bootstrap author on peer's
// inbox topic (spec.md §4.8, "Bootstrap ordering"), the same registration
// AddFriend/AddMember perform for a peer this node explicitly invites.
// A PeerDiscovery component calls this for every peer it learns about
// through presence announcements, so an invitation queued for a peer this
// node has never directly contacted still syncs once that peer opens a
// session on its own inbox topic.
func (n *Node) RegisterDiscoveredPeer(peer identity.ActorId) {
	inbox.RegisterBootstrap(n.authors, n.identity.ActorId(), peer)
}

// HandleFrame processes one inbound gossip/sync frame: it lets the gossip
// layer decide whether the frame yields a newly-seen Operation, then feeds
// that operation through ingest and the space/inbox state machines exactly
// as a locally authored operation is (spec.md §4.5).
func (n *Node) HandleFrame(ctx context.Context, frame gossipsync.Frame) error {
	op, err := n.gossip.HandleFrame(ctx, frame)
	if err != nil {
		return fmt.Errorf("handle frame: %w", err)
	}
	if op == nil {
		return nil
	}
	return n.ingestAndApply(*op, frame.Topic)
}

// ingestAndApply runs an Operation through ingest, applies it to the
// relevant state machine once committed, and recursively applies whatever
// parked operations its arrival unblocks (spec.md §4.3 step 5, "Retry").
func (n *Node) ingestAndApply(op wire.Operation, topic wire.Topic) error {
	result, err := n.ingester.Ingest(op, topic)
	if err != nil {
		return err
	}
	if result.Outcome != ingest.Complete || result.Duplicate {
		return nil
	}

	if err := n.apply(op, topic); err != nil {
		return err
	}

	id, err := op.Id()
	if err != nil {
		return fmt.Errorf("hash operation: %w", err)
	}
	completed, err := n.ingester.Retry(id)
	if err != nil {
		return err
	}

	// Each unblocked operation touches its own space/author/store locks, so
	// applying them concurrently is safe and lets a burst of retries (e.g.
	// several operations whose previous hashes all named this one) drain
	// without serializing on the slowest one.
	group, _ := errgroup.WithContext(context.Background())
	for _, c := range completed {
		c := c
		group.Go(func() error {
			return n.apply(c, c.Header.Extensions.Topic)
		})
	}
	return group.Wait()
}

// apply routes a freshly committed operation's payload to the space state
// machine (Chat topics) or the inbox handler (Inbox topics), recording any
// SpaceControlMessage's id -> header hash mapping along the way so later
// authoring can translate dependencies on it (spec.md §4.2 step 3).
func (n *Node) apply(op wire.Operation, topic wire.Topic) error {
	if len(op.Body) == 0 {
		return nil
	}
	payload, err := wire.DecodePayload(op.Body)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	headerHash, err := op.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash header: %w", err)
	}
	n.deps.RecordPayload(payload, headerHash)

	switch payload.Type {
	case wire.PayloadSpaceControl:
		chatID, ok := topic.ChatId()
		if !ok {
			return fmt.Errorf("space control payload on non-chat topic %s", topic)
		}
		sp := n.getOrCreateSpace(chatID)
		for _, msg := range payload.SpaceControl {
			if _, err := sp.Process(space.ProcessInput{Message: msg, AuthorSeqNum: op.Header.SeqNum}); err != nil {
				if wire.IsCode(err, wire.ErrorCodeDuplicateOperation) {
					continue
				}
				return err
			}
		}
		return nil

	case wire.PayloadInvitation:
		return inbox.Process(n.identity.ActorId(), topic, op.Header.PublicKey, payload, &inboxHandler{n: n})

	default:
		return fmt.Errorf("unknown payload type %d", payload.Type)
	}
}

func (n *Node) getOrCreateSpace(chatID wire.ChatId) *space.Space {
	n.mu.Lock()
	defer n.mu.Unlock()
	sp, ok := n.spaces[chatID]
	if !ok {
		sp = space.New(chatID, n.identity.ActorId(), n.identity.KeyAgreementPrivateKey, n.crypto)
		n.spaces[chatID] = sp
	}
	return sp
}

// inboxHandler adapts Node to inbox.Handler.
type inboxHandler struct{ n *Node }

func (h *inboxHandler) InitializeGroup(chatID wire.ChatId) error {
	n := h.n
	n.mu.Lock()
	_, exists := n.spaces[chatID]
	if !exists {
		n.spaces[chatID] = space.New(chatID, n.identity.ActorId(), n.identity.KeyAgreementPrivateKey, n.crypto)
	}
	n.mu.Unlock()

	topic := wire.ChatTopic(chatID)
	n.authors.Add(topic, n.identity.ActorId())
	n.gossip.Subscribe(topic)
	return nil
}

func (h *inboxHandler) FriendRequested(from identity.ActorId) {
	n := h.n
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.friends[from]; !exists {
		n.friends[from] = &Friend{Actor: from}
	}
}

// CreateGroup implements spec.md §4.9's `create_group() -> (ChatId, Chat)`:
// a random ChatId, a local Space with self@manage, and the KeyBundle/
// Auth/SpaceMembership control messages authored on Chat(ChatId).
func (n *Node) CreateGroup(ctx context.Context) (wire.ChatId, error) {
	chatID, err := randomChatID()
	if err != nil {
		return wire.ChatId{}, err
	}
	self := n.identity.ActorId()
	topic := wire.ChatTopic(chatID)

	keyBundleMsg, err := n.forge.Forge(wire.KeyBundleArgs{KeyAgreementKey: n.identity.KeyAgreementPublicKey})
	if err != nil {
		return chatID, fmt.Errorf("forge key bundle: %w", err)
	}

	authMsg, err := n.forge.Forge(wire.AuthArgs{
		Control: wire.AuthControl{Kind: wire.AuthGrant, Subject: self, Level: wire.AccessManage},
	})
	if err != nil {
		return chatID, fmt.Errorf("forge genesis auth: %w", err)
	}

	groupSecret, err := randomSecret()
	if err != nil {
		return chatID, err
	}
	groupID, err := randomHash()
	if err != nil {
		return chatID, err
	}
	dm, err := n.sealDirectMessage(self, n.identity.KeyAgreementPublicKey, groupSecret, chatID)
	if err != nil {
		return chatID, err
	}

	membershipMsg, err := n.forge.Forge(wire.SpaceMembershipArgs{
		SpaceID:        chatID,
		GroupID:        groupID,
		AuthMessageID:  authMsg.ID(),
		DirectMessages: []wire.DirectMessage{dm},
	})
	if err != nil {
		return chatID, fmt.Errorf("forge genesis membership: %w", err)
	}

	payload := wire.SpaceControlPayload(keyBundleMsg, authMsg, membershipMsg)
	op, err := n.authorer.Author(topic, payload, nil)
	if err != nil {
		return chatID, fmt.Errorf("author genesis batch: %w", err)
	}

	n.authors.Add(topic, self)
	n.mu.Lock()
	n.selfAuthGrant[chatID] = authMsg.ID()
	n.mu.Unlock()
	n.gossip.Subscribe(topic)

	if err := n.apply(op, topic); err != nil {
		return chatID, err
	}
	if _, err := n.gossip.Publish(ctx, topic, op); err != nil {
		return chatID, fmt.Errorf("publish genesis batch: %w", err)
	}

	return chatID, nil
}

// AddMember implements spec.md §4.9's `add_member(ChatId, PublicKey)`: a
// manager-only call granting member access in the space's auth DAG and
// sealing the current group secret to them, plus an Invitation::JoinGroup
// authored on their inbox so they learn to subscribe.
func (n *Node) AddMember(ctx context.Context, chatID wire.ChatId, member identity.ActorId, level wire.AccessLevel) error {
	n.mu.RLock()
	sp, ok := n.spaces[chatID]
	grantID, haveGrant := n.selfAuthGrant[chatID]
	n.mu.RUnlock()
	if !ok {
		return wire.ErrUnknownChat(fmt.Sprintf("no local space for chat %s", chatID))
	}
	if !haveGrant {
		return wire.ErrAuthRejected("local actor holds no recorded auth grant for this space")
	}
	if lvl, isMember := sp.AccessLevel(n.identity.ActorId()); !isMember || !lvl.Satisfies(wire.AccessManage) {
		return wire.ErrAuthRejected("local actor does not hold manage access in this space")
	}

	memberKey, ok := n.memberKeyAgreementKey(member)
	if !ok {
		return fmt.Errorf("no known prekey for member %s; add as friend first", member)
	}

	secret, groupSecretID, ok := sp.GroupSecret()
	if !ok {
		return wire.ErrCryptoFailure("local space has not established a group secret yet")
	}

	authMsg, err := n.forge.Forge(wire.AuthArgs{
		Control:          wire.AuthControl{Kind: wire.AuthGrant, Subject: member, Level: level},
		AuthDependencies: []wire.OperationId{grantID},
	})
	if err != nil {
		return fmt.Errorf("forge member auth: %w", err)
	}

	dm, err := n.sealDirectMessage(member, memberKey, secret, chatID)
	if err != nil {
		return err
	}

	membershipMsg, err := n.forge.Forge(wire.SpaceMembershipArgs{
		SpaceID:        chatID,
		GroupID:        groupSecretID,
		AuthMessageID:  authMsg.ID(),
		DirectMessages: []wire.DirectMessage{dm},
	})
	if err != nil {
		return fmt.Errorf("forge member admission: %w", err)
	}

	topic := wire.ChatTopic(chatID)
	payload := wire.SpaceControlPayload(authMsg, membershipMsg)
	op, err := n.authorer.Author(topic, payload, nil)
	if err != nil {
		return fmt.Errorf("author membership batch: %w", err)
	}
	n.authors.Add(topic, member)
	if err := n.apply(op, topic); err != nil {
		return err
	}
	if _, err := n.gossip.Publish(ctx, topic, op); err != nil {
		return fmt.Errorf("publish membership batch: %w", err)
	}

	return n.inviteToInbox(ctx, member, wire.JoinGroupInvitation(chatID))
}

// AddFriend implements spec.md §4.9's `add_friend(Member)`: registers the
// peer's prekey, subscribes to their inbox, and authors an advisory
// Invitation::Friend there.
func (n *Node) AddFriend(ctx context.Context, member Member, nickname string) error {
	nickname = norm.NFC.String(nickname)
	n.mu.Lock()
	n.friends[member.Actor] = &Friend{Actor: member.Actor, Nickname: nickname, KeyAgreementPublicKey: member.KeyAgreementPublicKey}
	n.mu.Unlock()

	return n.inviteToInbox(ctx, member.Actor, wire.FriendInvitation())
}

// RemoveFriend drops a registered friend (SPEC_FULL.md supplemented
// feature 4). It does not retract any invitation already gossiped.
func (n *Node) RemoveFriend(actor identity.ActorId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.friends, actor)
}

// inviteToInbox authors inv on peer's inbox topic, registering this node as
// a bootstrap author of that topic first (spec.md §4.8, "Bootstrap
// ordering") so a peer who has never heard of us still syncs it.
func (n *Node) inviteToInbox(ctx context.Context, peer identity.ActorId, inv wire.InvitationMessage) error {
	inbox.RegisterBootstrap(n.authors, n.identity.ActorId(), peer)
	topic := wire.InboxTopic(peer)
	n.gossip.Subscribe(topic)

	op, err := n.authorer.Author(topic, wire.InvitationPayload(inv), nil)
	if err != nil {
		return fmt.Errorf("author invitation: %w", err)
	}
	if _, err := n.gossip.Publish(ctx, topic, op); err != nil {
		return fmt.Errorf("publish invitation: %w", err)
	}
	return nil
}

// SendMessage implements spec.md §4.9's `send_message(ChatId, content)`.
func (n *Node) SendMessage(ctx context.Context, chatID wire.ChatId, content []byte) (wire.OperationId, error) {
	content = norm.NFC.Bytes(content)
	n.mu.RLock()
	sp, ok := n.spaces[chatID]
	n.mu.RUnlock()
	if !ok {
		return wire.OperationId{}, wire.ErrUnknownChat(fmt.Sprintf("no local space for chat %s", chatID))
	}
	if lvl, isMember := sp.AccessLevel(n.identity.ActorId()); !isMember || !lvl.Satisfies(wire.AccessWrite) {
		return wire.OperationId{}, wire.ErrNotAMember("local actor is not a writing member of this space")
	}

	args, err := sp.Publish(content, nil)
	if err != nil {
		return wire.OperationId{}, err
	}
	msg, err := n.forge.Forge(args)
	if err != nil {
		return wire.OperationId{}, fmt.Errorf("forge application message: %w", err)
	}

	topic := wire.ChatTopic(chatID)
	op, err := n.authorer.Author(topic, wire.SpaceControlPayload(msg), nil)
	if err != nil {
		return wire.OperationId{}, fmt.Errorf("author application message: %w", err)
	}
	if err := n.apply(op, topic); err != nil {
		return wire.OperationId{}, err
	}
	if _, err := n.gossip.Publish(ctx, topic, op); err != nil {
		return wire.OperationId{}, fmt.Errorf("publish application message: %w", err)
	}
	return msg.ID(), nil
}

// GetMessages implements spec.md §4.9's `get_messages(ChatId) ->
// [ChatMessage]`.
func (n *Node) GetMessages(chatID wire.ChatId) ([]space.ChatMessage, error) {
	n.mu.RLock()
	sp, ok := n.spaces[chatID]
	n.mu.RUnlock()
	if !ok {
		return nil, wire.ErrUnknownChat(fmt.Sprintf("no local space for chat %s", chatID))
	}
	return sp.Messages(), nil
}

// GetGroups implements spec.md §4.9's `get_groups()`.
func (n *Node) GetGroups() []wire.ChatId {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]wire.ChatId, 0, len(n.spaces))
	for id := range n.spaces {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// GetFriends implements spec.md §4.9's `get_friends()`.
func (n *Node) GetFriends() []*Friend {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Friend, 0, len(n.friends))
	for _, f := range n.friends {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor.String() < out[j].Actor.String() })
	return out
}

// GetMembers implements spec.md §4.9's `get_members(ChatId)`.
func (n *Node) GetMembers(chatID wire.ChatId) ([]identity.ActorId, error) {
	n.mu.RLock()
	sp, ok := n.spaces[chatID]
	n.mu.RUnlock()
	if !ok {
		return nil, wire.ErrUnknownChat(fmt.Sprintf("no local space for chat %s", chatID))
	}
	return sp.Members(), nil
}

func (n *Node) memberKeyAgreementKey(actor identity.ActorId) ([32]byte, bool) {
	n.mu.RLock()
	friend, ok := n.friends[actor]
	n.mu.RUnlock()
	if ok {
		return friend.KeyAgreementPublicKey, true
	}
	for _, chatID := range n.GetGroups() {
		n.mu.RLock()
		sp := n.spaces[chatID]
		n.mu.RUnlock()
		if key, ok := sp.KeyBundle(actor); ok {
			return key, true
		}
	}
	return [32]byte{}, false
}

// sealDirectMessage encrypts secret to recipient's long-term prekey under a
// fresh ephemeral X25519 keypair (spec.md GLOSSARY, "Direct message
// (sealed)").
func (n *Node) sealDirectMessage(recipient identity.ActorId, recipientKey, secret [32]byte, chatID wire.ChatId) (wire.DirectMessage, error) {
	ephPub, ephPriv, err := n.crypto.GenerateKeyAgreementKeypair()
	if err != nil {
		return wire.DirectMessage{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	shared, err := n.crypto.SharedSecret(ephPriv, recipientKey)
	if err != nil {
		return wire.DirectMessage{}, wire.ErrCryptoFailure(fmt.Sprintf("derive shared secret: %v", err))
	}
	nonce, ciphertext, err := n.crypto.Seal(shared, secret[:], chatID[:])
	if err != nil {
		return wire.DirectMessage{}, wire.ErrCryptoFailure(fmt.Sprintf("seal direct message: %v", err))
	}
	return wire.DirectMessage{Recipient: recipient, EphemeralKey: ephPub, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func randomChatID() (wire.ChatId, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return wire.ChatId{}, fmt.Errorf("generate chat id: %w", err)
	}
	return wire.ChatIdFromBytes(b[:])
}

func randomHash() (wire.Hash, error) {
	var h wire.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return h, fmt.Errorf("generate group id: %w", err)
	}
	return h, nil
}

func randomSecret() ([32]byte, error) {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("generate group secret: %w", err)
	}
	return s, nil
}

// storeSyncResponder adapts the operation store to gossipsync.SyncResponder.
type storeSyncResponder struct {
	store   store.OperationStore
	authors *authorstore.AuthorStore
}

func (r *storeSyncResponder) Since(topic wire.Topic, heights map[identity.ActorId]uint64) ([]wire.Operation, error) {
	var ops []wire.Operation
	for _, a := range r.authors.Get(topic) {
		from := heights[a] + 1
		if _, known := heights[a]; !known {
			from = 0
		}
		entries, err := r.store.Log(a, topic, &from)
		if err != nil {
			return nil, fmt.Errorf("log author %s: %w", a, err)
		}
		for _, e := range entries {
			ops = append(ops, wire.Operation{Header: e.Header, Body: e.Body})
		}
	}
	return ops, nil
}

// storeOperationLookup adapts the operation store to gossipsync.OperationLookup.
type storeOperationLookup struct {
	store store.OperationStore
}

func (l *storeOperationLookup) Lookup(id wire.Hash) (wire.Operation, bool) {
	e, ok := l.store.Get(id)
	if !ok {
		return wire.Operation{}, false
	}
	return wire.Operation{Header: e.Header, Body: e.Body}, true
}
