// Package gossipsync implements the epidemic dissemination and pull-sync
// bridge described in spec.md §4.5: topic meshes that gossip freshly
// authored or received Operations, plus a direct Sync path that answers a
// peer's per-author height gaps without re-gossiping the response. It keeps
// the teacher's BeeGossip/1 mesh/fanout/IHAVE-IWANT-GRAFT-PRUNE/heartbeat
// shape (pkg/gossipsync/gossip.go) but carries wire.Operation over
// wire.Topic-addressed meshes instead of generic PubSub envelopes — the
// new wire package has no BaseFrame, so dissemination units are Operations
// themselves, already signed at the Header level, and need no second
// envelope signature.
package gossipsync

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// FrameKind distinguishes the wire messages this package exchanges between
// peers, separate from the higher-level "Gossip{bytes} | Sync{header,body}"
// distinction of spec.md §4.5: an Operation frame is forwarded to other
// mesh peers as it propagates, a Sync frame is a direct pull-response and
// is never re-forwarded.
type FrameKind uint8

const (
	FrameOperation FrameKind = iota
	FrameSync
	FrameIHave
	FrameIWant
	FrameGraft
	FramePrune
	FrameHeartbeat
	FrameSyncRequest
)

// Frame is the single envelope type exchanged by this package. Only the
// fields relevant to Kind are populated.
type Frame struct {
	Kind  FrameKind
	Topic wire.Topic
	From  identity.ActorId
	Seq   uint64

	// FrameOperation, FrameSync: the encoded wire.Operation.
	OperationBytes []byte

	// FrameIHave, FrameIWant: hashes advertised or requested.
	Hashes []wire.Hash

	// FrameHeartbeat: topics the sender is subscribed to.
	Topics []wire.Topic

	// FrameSyncRequest: the sender's known heights per author, so the
	// receiver can answer with whatever the sender is missing.
	Heights map[identity.ActorId]uint64
}

//go:generate go run go.uber.org/mock/mockgen -destination=gossipsyncmock/mock.go -package=gossipsyncmock . Network

// Network sends frames to a specific peer or broadcasts to everyone
// reachable, leaving transport (QUIC/TCP, Noise session framing) to the
// caller.
type Network interface {
	Send(ctx context.Context, target identity.ActorId, frame Frame) error
	Broadcast(ctx context.Context, frame Frame) error
}

// SyncResponder answers a FrameSyncRequest with whatever operations the
// requester is missing, as judged by the per-author heights it already
// holds. Node wires this to its operation store.
type SyncResponder interface {
	Since(topic wire.Topic, heights map[identity.ActorId]uint64) ([]wire.Operation, error)
}

// OperationLookup resolves a single known OperationId to its Operation, for
// answering IWANT requests without rescanning a whole topic log.
type OperationLookup interface {
	Lookup(id wire.Hash) (wire.Operation, bool)
}

// Config configures a Gossip instance.
type Config struct {
	Self              identity.ActorId
	Network           Network
	Responder         SyncResponder   // optional
	Lookup            OperationLookup // optional
	HeartbeatInterval time.Duration
	MeshMin           int
	MeshMax           int
}

// Gossip runs one node's side of the epidemic mesh protocol.
type Gossip struct {
	mu sync.RWMutex

	self              identity.ActorId
	network           Network
	responder         SyncResponder
	lookup            OperationLookup
	heartbeatInterval time.Duration
	meshMin           int
	meshMax           int

	topicMeshes map[wire.Topic]*TopicMesh

	seenOperations map[wire.Hash]time.Time
	seenTTL        time.Duration

	sequenceNum uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// TopicMesh tracks the mesh and fanout peer sets for one topic.
type TopicMesh struct {
	mu sync.RWMutex

	Topic  wire.Topic
	peers  map[identity.ActorId]bool
	fanout map[identity.ActorId]bool
}

// New builds a Gossip instance from cfg, filling in spec.md §21 defaults
// for any zero-valued tuning knob.
func New(cfg Config) (*Gossip, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("network is required")
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = constants.GossipHeartbeat
	}
	meshMin := cfg.MeshMin
	if meshMin == 0 {
		meshMin = constants.GossipMeshMin
	}
	meshMax := cfg.MeshMax
	if meshMax == 0 {
		meshMax = constants.GossipMeshMax
	}

	return &Gossip{
		self:              cfg.Self,
		network:           cfg.Network,
		responder:         cfg.Responder,
		lookup:            cfg.Lookup,
		heartbeatInterval: heartbeat,
		meshMin:           meshMin,
		meshMax:           meshMax,
		topicMeshes:       make(map[wire.Topic]*TopicMesh),
		seenOperations:    make(map[wire.Hash]time.Time),
		seenTTL:           10 * time.Minute,
	}, nil
}

// Start begins the heartbeat and seen-operation cleanup loops.
func (g *Gossip) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx != nil {
		return fmt.Errorf("gossip already running")
	}
	g.ctx, g.cancel = context.WithCancel(ctx)

	go g.heartbeatLoop()
	go g.cleanupLoop()

	return nil
}

// Stop tears down the background loops.
func (g *Gossip) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// Subscribe joins the mesh for topic, if not already a member.
func (g *Gossip) Subscribe(topic wire.Topic) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.topicMeshes[topic]; exists {
		return
	}
	g.topicMeshes[topic] = &TopicMesh{
		Topic:  topic,
		peers:  make(map[identity.ActorId]bool),
		fanout: make(map[identity.ActorId]bool),
	}
}

// Unsubscribe leaves the mesh for topic, sending PRUNE to current peers.
func (g *Gossip) Unsubscribe(ctx context.Context, topic wire.Topic) {
	g.mu.Lock()
	mesh, exists := g.topicMeshes[topic]
	if exists {
		delete(g.topicMeshes, topic)
	}
	g.mu.Unlock()
	if !exists {
		return
	}

	for _, peer := range mesh.GetPeers() {
		frame := Frame{Kind: FramePrune, Topic: topic, From: g.self, Seq: g.nextSeq()}
		_ = g.network.Send(ctx, peer, frame)
	}
}

// Publish gossips op to topic's mesh (or fanout, if the mesh is empty),
// returning its OperationId. Callers author and locally ingest the
// operation first; Publish only disseminates it.
func (g *Gossip) Publish(ctx context.Context, topic wire.Topic, op wire.Operation) (wire.Hash, error) {
	id, err := op.Id()
	if err != nil {
		return wire.Hash{}, fmt.Errorf("hash operation: %w", err)
	}
	encoded, err := wire.EncodeOperation(op)
	if err != nil {
		return wire.Hash{}, fmt.Errorf("encode operation: %w", err)
	}
	g.markSeen(id)

	frame := Frame{Kind: FrameOperation, Topic: topic, From: g.self, Seq: g.nextSeq(), OperationBytes: encoded}
	g.forward(ctx, topic, frame, identity.ActorId{})
	return id, nil
}

// HandleFrame processes one inbound frame. When frame carries a newly-seen
// Operation (either gossiped or delivered by direct sync), it is returned
// for the caller to decode-and-ingest per spec.md §4.5; a duplicate or a
// frame that produces no deliverable operation returns (nil, nil).
func (g *Gossip) HandleFrame(ctx context.Context, frame Frame) (*wire.Operation, error) {
	switch frame.Kind {
	case FrameOperation:
		return g.handleOperationFrame(ctx, frame, true)
	case FrameSync:
		return g.handleOperationFrame(ctx, frame, false)
	case FrameIHave:
		return nil, g.handleIHave(ctx, frame)
	case FrameIWant:
		return nil, g.handleIWant(ctx, frame)
	case FrameGraft:
		return nil, g.handleGraft(frame)
	case FramePrune:
		return nil, g.handlePrune(frame)
	case FrameHeartbeat:
		return nil, nil
	case FrameSyncRequest:
		return nil, g.handleSyncRequest(ctx, frame)
	default:
		return nil, fmt.Errorf("unsupported frame kind: %d", frame.Kind)
	}
}

func (g *Gossip) handleOperationFrame(ctx context.Context, frame Frame, reforward bool) (*wire.Operation, error) {
	op, err := wire.DecodeOperation(frame.OperationBytes)
	if err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	id, err := op.Id()
	if err != nil {
		return nil, fmt.Errorf("hash operation: %w", err)
	}
	if g.HasSeen(id) {
		return nil, nil
	}
	g.markSeen(id)

	if reforward {
		g.forward(ctx, frame.Topic, frame, frame.From)
	}
	return &op, nil
}

// forward relays frame to a bounded random subset of the topic's mesh
// peers (excluding exclude), falling back to fanout broadcast when the
// mesh has no peers yet.
func (g *Gossip) forward(ctx context.Context, topic wire.Topic, frame Frame, exclude identity.ActorId) {
	g.mu.RLock()
	mesh, subscribed := g.topicMeshes[topic]
	g.mu.RUnlock()
	if !subscribed {
		return
	}

	peers := mesh.GetPeers()
	candidates := peers[:0:0]
	for _, p := range peers {
		if p != exclude {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		_ = g.network.Broadcast(ctx, frame)
		return
	}

	const maxForward = 3
	n := len(candidates)
	if n > maxForward {
		n = maxForward
	}
	for i := 0; i < n; i++ {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
		peer := candidates[idx.Int64()]
		_ = g.network.Send(ctx, peer, frame)
		candidates[idx.Int64()] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
	}
}

func (g *Gossip) handleIHave(ctx context.Context, frame Frame) error {
	g.mu.RLock()
	_, subscribed := g.topicMeshes[frame.Topic]
	g.mu.RUnlock()
	if !subscribed {
		return nil
	}

	wanted := make([]wire.Hash, 0, len(frame.Hashes))
	for _, h := range frame.Hashes {
		if !g.HasSeen(h) {
			wanted = append(wanted, h)
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	return g.network.Send(ctx, frame.From, Frame{Kind: FrameIWant, Topic: frame.Topic, From: g.self, Seq: g.nextSeq(), Hashes: wanted})
}

// handleIWant answers a request for specific operations directly from the
// lookup source, without re-entering the mesh forwarding path.
func (g *Gossip) handleIWant(ctx context.Context, frame Frame) error {
	if g.lookup == nil {
		return nil
	}
	for _, h := range frame.Hashes {
		op, ok := g.lookup.Lookup(h)
		if !ok {
			continue
		}
		encoded, err := wire.EncodeOperation(op)
		if err != nil {
			return err
		}
		if err := g.network.Send(ctx, frame.From, Frame{Kind: FrameSync, Topic: frame.Topic, From: g.self, Seq: g.nextSeq(), OperationBytes: encoded}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gossip) handleGraft(frame Frame) error {
	g.mu.RLock()
	mesh, subscribed := g.topicMeshes[frame.Topic]
	g.mu.RUnlock()
	if subscribed {
		mesh.AddPeer(frame.From)
	}
	return nil
}

func (g *Gossip) handlePrune(frame Frame) error {
	g.mu.RLock()
	mesh, exists := g.topicMeshes[frame.Topic]
	g.mu.RUnlock()
	if exists {
		mesh.RemovePeer(frame.From)
	}
	return nil
}

// RequestSync asks peer for anything beyond the heights we already hold on
// topic (spec.md §4.5 pull-sync side of the Gossip/Sync Bridge).
func (g *Gossip) RequestSync(ctx context.Context, peer identity.ActorId, topic wire.Topic, heights map[identity.ActorId]uint64) error {
	return g.network.Send(ctx, peer, Frame{Kind: FrameSyncRequest, Topic: topic, From: g.self, Seq: g.nextSeq(), Heights: heights})
}

func (g *Gossip) handleSyncRequest(ctx context.Context, frame Frame) error {
	if g.responder == nil {
		return nil
	}
	ops, err := g.responder.Since(frame.Topic, frame.Heights)
	if err != nil {
		return err
	}
	for _, op := range ops {
		encoded, err := wire.EncodeOperation(op)
		if err != nil {
			return err
		}
		if err := g.network.Send(ctx, frame.From, Frame{Kind: FrameSync, Topic: frame.Topic, From: g.self, Seq: g.nextSeq(), OperationBytes: encoded}); err != nil {
			return err
		}
	}
	return nil
}

// GetTopicMesh returns the mesh tracked for topic, if subscribed.
func (g *Gossip) GetTopicMesh(topic wire.Topic) *TopicMesh {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topicMeshes[topic]
}

// HasSeen reports whether id has already been delivered.
func (g *Gossip) HasSeen(id wire.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.seenOperations[id]
	return ok
}

func (g *Gossip) markSeen(id wire.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seenOperations[id] = time.Now()
}

func (g *Gossip) nextSeq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sequenceNum++
	return g.sequenceNum
}

// AddPeer adds peer to the topic's mesh.
func (tm *TopicMesh) AddPeer(peer identity.ActorId) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.peers[peer] = true
}

// RemovePeer removes peer from the topic's mesh.
func (tm *TopicMesh) RemovePeer(peer identity.ActorId) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.peers, peer)
}

// GetPeers lists the topic's current mesh peers.
func (tm *TopicMesh) GetPeers() []identity.ActorId {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	peers := make([]identity.ActorId, 0, len(tm.peers))
	for p := range tm.peers {
		peers = append(peers, p)
	}
	return peers
}

// HasPeer reports whether peer is a current mesh member.
func (tm *TopicMesh) HasPeer(peer identity.ActorId) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.peers[peer]
}

func (g *Gossip) heartbeatLoop() {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.sendHeartbeat()
		}
	}
}

func (g *Gossip) sendHeartbeat() {
	g.mu.RLock()
	topics := make([]wire.Topic, 0, len(g.topicMeshes))
	meshes := make([]*TopicMesh, 0, len(g.topicMeshes))
	for topic, mesh := range g.topicMeshes {
		topics = append(topics, topic)
		meshes = append(meshes, mesh)
	}
	g.mu.RUnlock()
	if len(topics) == 0 {
		return
	}

	ctx := context.Background()
	frame := Frame{Kind: FrameHeartbeat, From: g.self, Seq: g.nextSeq(), Topics: topics}
	for _, mesh := range meshes {
		for _, peer := range mesh.GetPeers() {
			_ = g.network.Send(ctx, peer, frame)
		}
	}
}

func (g *Gossip) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.cleanupSeenOperations()
		}
	}
}

func (g *Gossip) cleanupSeenOperations() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for id, seenAt := range g.seenOperations {
		if now.Sub(seenAt) > g.seenTTL {
			delete(g.seenOperations, id)
		}
	}
}
