// Package dht implements a Kademlia-style distributed hash table used for
// peer discovery: presence announcement and address resolution (spec.md
// §5). It is deliberately separate from the gossip/sync dissemination
// plane in pkg/gossipsync, which carries application operations rather
// than routing records.
package dht

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"lukechampine.com/blake3"
)

// FrameKind identifies the kind of message carried on the wire between
// DHT peers.
type FrameKind uint8

const (
	FrameGet FrameKind = iota
	FramePut
	FramePing
	FrameAnnouncePresence
)

// Frame is the message envelope exchanged between DHT peers.
type Frame struct {
	Kind FrameKind
	From identity.ActorId
	Seq  uint64

	Key       []byte // FrameGet, FramePut
	Value     []byte // FramePut
	Signature []byte // FramePut

	Payload []byte // FramePing

	Presence *PresenceRecord // FrameAnnouncePresence
}

// DHT is a Kademlia-compatible distributed hash table scoped to one
// logical network.
type DHT struct {
	mu           sync.RWMutex
	localNode    *Node
	routingTable *RoutingTable
	identity     *identity.Identity
	networkID    string

	storage map[string]*DHTRecord

	network NetworkInterface

	security *SecurityManager

	alpha int // concurrency parameter for iterative operations

	// onDiscover fires when a FrameAnnouncePresence introduces an actor
	// not previously in the routing table, driving the discovery seam
	// spec.md §4.8 calls bootstrap-author registration.
	onDiscover func(actor identity.ActorId, addrs []string)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	seq uint64
}

// DHTRecord is a stored key/value record.
type DHTRecord struct {
	Key       []byte
	Value     []byte
	Signature []byte
	Timestamp time.Time
	TTL       time.Duration
}

// NetworkInterface sends and receives DHT frames.
type NetworkInterface interface {
	SendMessage(ctx context.Context, target *Node, frame Frame) error
	BroadcastMessage(ctx context.Context, frame Frame) error
}

// Config holds DHT configuration.
type Config struct {
	NetworkID string
	Identity  *identity.Identity
	Network   NetworkInterface
	Alpha     int // concurrency parameter, default DHTAlpha
	// OnDiscover, if set, is invoked whenever a presence announcement
	// names an actor not already present in the routing table.
	OnDiscover func(actor identity.ActorId, addrs []string)
}

// New creates a new DHT instance.
func New(config *Config) (*DHT, error) {
	if config.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if config.NetworkID == "" {
		return nil, fmt.Errorf("network id is required")
	}

	alpha := config.Alpha
	if alpha <= 0 {
		alpha = constants.DHTAlpha
	}

	localNode := NewNode(config.Identity.ActorId(), []string{})
	security := NewSecurityManager(&SecurityConfig{})

	return &DHT{
		localNode:    localNode,
		routingTable: NewRoutingTable(localNode.ID),
		identity:     config.Identity,
		networkID:    config.NetworkID,
		storage:      make(map[string]*DHTRecord),
		network:      config.Network,
		security:     security,
		alpha:        alpha,
		onDiscover:   config.OnDiscover,
		done:         make(chan struct{}),
	}, nil
}

// GetNode returns the routing table entry for actor, if known.
func (d *DHT) GetNode(actor identity.ActorId) (*Node, bool) {
	node := d.routingTable.Get(NewNodeID(actor))
	if node == nil {
		return nil, false
	}
	return node, true
}

// Start starts the DHT's background maintenance.
func (d *DHT) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return fmt.Errorf("DHT is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.maintenanceLoop()
	return nil
}

// Stop stops the DHT.
func (d *DHT) Stop() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// AddNode adds a node to the routing table.
func (d *DHT) AddNode(node *Node) bool {
	return d.routingTable.Add(node)
}

// RemoveNode removes a node from the routing table.
func (d *DHT) RemoveNode(nodeID NodeID) bool {
	return d.routingTable.Remove(nodeID)
}

// GetClosestNodes returns the k closest nodes to the target ID.
func (d *DHT) GetClosestNodes(target NodeID, k int) []*Node {
	return d.routingTable.GetClosest(target, k)
}

// Put stores a value in the DHT and propagates it to the closest nodes.
func (d *DHT) Put(ctx context.Context, key []byte, value []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("key must be exactly 32 bytes")
	}

	signature := ed25519.Sign(d.identity.SigningPrivateKey, append(append([]byte{}, key...), value...))

	keyStr := string(key)
	d.mu.Lock()
	d.storage[keyStr] = &DHTRecord{
		Key:       key,
		Value:     value,
		Signature: signature,
		Timestamp: time.Now(),
		TTL:       constants.PresenceTTL,
	}
	d.mu.Unlock()

	targetID := NodeID(blake3.Sum256(key))
	closestNodes := d.GetClosestNodes(targetID, constants.DHTBucketSize)

	frame := Frame{Kind: FramePut, From: d.identity.ActorId(), Seq: d.nextSeq(), Key: key, Value: value, Signature: signature}
	for _, node := range closestNodes {
		if d.network != nil {
			go func(n *Node) {
				if err := d.network.SendMessage(ctx, n, frame); err != nil {
					fmt.Printf("dht: PUT to %s failed: %v\n", n.ActorID, err)
				}
			}(node)
		}
	}
	return nil
}

// Get retrieves a value from the DHT, checking local storage before
// falling back to an iterative lookup.
func (d *DHT) Get(ctx context.Context, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be exactly 32 bytes")
	}

	keyStr := string(key)
	d.mu.RLock()
	if record, exists := d.storage[keyStr]; exists && !d.isExpired(record) {
		d.mu.RUnlock()
		return record.Value, nil
	}
	d.mu.RUnlock()

	targetID := NodeID(blake3.Sum256(key))
	return d.iterativeGet(ctx, targetID, key)
}

// GetAllNodes returns all nodes in the routing table.
func (d *DHT) GetAllNodes() []*Node {
	return d.routingTable.GetAllNodes()
}

// GetRoutingTableSize returns the number of nodes in the routing table.
func (d *DHT) GetRoutingTableSize() int {
	return d.routingTable.Size()
}

func (d *DHT) maintenanceLoop() {
	defer close(d.done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.performMaintenance()
		}
	}
}

func (d *DHT) performMaintenance() {
	d.routingTable.RemoveStale(10 * time.Minute)
	d.cleanupExpiredRecords()
}

func (d *DHT) cleanupExpiredRecords() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, record := range d.storage {
		if d.isExpired(record) {
			delete(d.storage, key)
		}
	}
}

func (d *DHT) isExpired(record *DHTRecord) bool {
	return time.Since(record.Timestamp) > record.TTL
}

// iterativeGet performs a bounded-concurrency lookup across the alpha
// closest known nodes. Response collection from the network layer is not
// yet wired; local storage is authoritative until then.
func (d *DHT) iterativeGet(ctx context.Context, targetID NodeID, key []byte) ([]byte, error) {
	closestNodes := d.GetClosestNodes(targetID, d.alpha)
	if len(closestNodes) == 0 {
		return nil, fmt.Errorf("no nodes available for lookup")
	}

	frame := Frame{Kind: FrameGet, From: d.identity.ActorId(), Seq: d.nextSeq(), Key: key}
	for _, node := range closestNodes {
		if d.network != nil {
			if err := d.network.SendMessage(ctx, node, frame); err != nil {
				fmt.Printf("dht: GET to %s failed: %v\n", node.ActorID, err)
			}
		}
	}
	return nil, fmt.Errorf("key not found")
}

// HandleMessage dispatches an incoming DHT frame after a security check.
func (d *DHT) HandleMessage(frame Frame) error {
	if !d.security.AllowRequest(frame.From.String()) {
		return fmt.Errorf("request from %s denied by security policy", frame.From)
	}

	switch frame.Kind {
	case FrameGet:
		return d.handleGet(frame)
	case FramePut:
		return d.handlePut(frame)
	case FrameAnnouncePresence:
		return d.handleAnnouncePresence(frame)
	default:
		return fmt.Errorf("unsupported DHT frame kind: %d", frame.Kind)
	}
}

func (d *DHT) handleGet(frame Frame) error {
	keyStr := string(frame.Key)
	d.mu.RLock()
	record, exists := d.storage[keyStr]
	d.mu.RUnlock()

	if exists && !d.isExpired(record) {
		fmt.Printf("dht: GET found key %x for %s\n", frame.Key, frame.From)
	} else {
		fmt.Printf("dht: GET key %x not found for %s\n", frame.Key, frame.From)
	}
	return nil
}

func (d *DHT) handlePut(frame Frame) error {
	keyStr := string(frame.Key)
	d.mu.Lock()
	d.storage[keyStr] = &DHTRecord{
		Key:       frame.Key,
		Value:     frame.Value,
		Signature: frame.Signature,
		Timestamp: time.Now(),
		TTL:       constants.PresenceTTL,
	}
	d.mu.Unlock()

	fmt.Printf("dht: PUT stored key %x from %s\n", frame.Key, frame.From)
	return nil
}

func (d *DHT) handleAnnouncePresence(frame Frame) error {
	presence := frame.Presence
	if presence == nil {
		return fmt.Errorf("missing presence record")
	}
	if err := presence.IsValid(); err != nil {
		return fmt.Errorf("invalid presence record: %w", err)
	}

	_, alreadyKnown := d.GetNode(frame.From)
	node := NewNode(frame.From, presence.Addrs)
	d.AddNode(node)

	fmt.Printf("dht: ANNOUNCE_PRESENCE added node %s\n", frame.From)
	if !alreadyKnown && d.onDiscover != nil {
		d.onDiscover(frame.From, presence.Addrs)
	}
	return nil
}

// GetSecurityStats returns security-related statistics.
func (d *DHT) GetSecurityStats() map[string]interface{} {
	return d.security.GetStats()
}

// GetNetworkInterface returns the network interface.
func (d *DHT) GetNetworkInterface() NetworkInterface {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.network
}

func (d *DHT) nextSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}
