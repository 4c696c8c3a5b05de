// Package dht implements a Kademlia-compatible distributed hash table used
// for peer discovery (spec.md §5, peer discovery and transport).
package dht

import (
	"fmt"
	"net"
	"time"

	"github.com/dashchat/spaces-engine/pkg/identity"
)

// NodeID is a 256-bit identifier in the DHT keyspace.
type NodeID [32]byte

// Node is a peer known to the DHT.
type Node struct {
	ID       NodeID          // keyspace identifier, derived from ActorID
	ActorID  identity.ActorId
	Addrs    []string  // multiaddresses for connecting to this node
	LastSeen time.Time // last time we heard from this node

	Connected bool
	Conn      net.Conn // active connection if any
}

// NewNodeID derives the keyspace identifier for an actor. ActorId is
// already a 256-bit value, so it is used directly rather than hashed again.
func NewNodeID(actor identity.ActorId) NodeID {
	return NodeID(actor)
}

// NewNode creates a new DHT node.
func NewNode(actor identity.ActorId, addrs []string) *Node {
	return &Node{
		ID:       NewNodeID(actor),
		ActorID:  actor,
		Addrs:    addrs,
		LastSeen: time.Now(),
	}
}

// Distance calculates the XOR distance between two node IDs.
func (n NodeID) Distance(other NodeID) NodeID {
	var result NodeID
	for i := 0; i < 32; i++ {
		result[i] = n[i] ^ other[i]
	}
	return result
}

// String returns the hex representation of the NodeID.
func (n NodeID) String() string {
	return fmt.Sprintf("%x", n[:])
}

// Bytes returns the NodeID as a byte slice.
func (n NodeID) Bytes() []byte {
	return n[:]
}

// IsZero returns true if the NodeID is all zeros.
func (n NodeID) IsZero() bool {
	for _, b := range n {
		if b != 0 {
			return false
		}
	}
	return true
}

// Less returns true if this NodeID is less than the other (for sorting).
func (n NodeID) Less(other NodeID) bool {
	for i := 0; i < 32; i++ {
		if n[i] < other[i] {
			return true
		}
		if n[i] > other[i] {
			return false
		}
	}
	return false
}

// CommonPrefixLen returns the number of leading bits shared with other.
func (n NodeID) CommonPrefixLen(other NodeID) int {
	for i := 0; i < 32; i++ {
		xor := n[i] ^ other[i]
		if xor == 0 {
			continue
		}
		for j := 7; j >= 0; j-- {
			if (xor>>j)&1 == 1 {
				return i*8 + (7 - j)
			}
		}
	}
	return 256
}

// IsValid checks if the node has valid data.
func (n *Node) IsValid() bool {
	return len(n.Addrs) > 0 && !n.ID.IsZero()
}

// UpdateLastSeen updates the last seen timestamp.
func (n *Node) UpdateLastSeen() {
	n.LastSeen = time.Now()
}

// IsStale returns true if the node hasn't been seen recently.
func (n *Node) IsStale(timeout time.Duration) bool {
	return time.Since(n.LastSeen) > timeout
}

// Copy creates a deep copy of the node.
func (n *Node) Copy() *Node {
	addrs := make([]string, len(n.Addrs))
	copy(addrs, n.Addrs)

	return &Node{
		ID:        n.ID,
		ActorID:   n.ActorID,
		Addrs:     addrs,
		LastSeen:  n.LastSeen,
		Connected: n.Connected,
		Conn:      n.Conn,
	}
}

// String returns a string representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node{ID: %s, Actor: %s, Addrs: %v, LastSeen: %v}",
		n.ID.String()[:16]+"...", n.ActorID.String(), n.Addrs, n.LastSeen.Format(time.RFC3339))
}
