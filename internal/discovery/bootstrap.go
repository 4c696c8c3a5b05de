// Package dht implements bootstrap and seed node management.
package dht

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
)

// SeedNode is a bootstrap peer used to join the network.
type SeedNode struct {
	Actor string   `json:"actor"` // hex-encoded ActorId
	Addrs []string `json:"addrs"` // multiaddresses to connect to the seed
	Name  string   `json:"name"`  // human-readable name, optional
}

// Bootstrap manages seed nodes and the bootstrap process.
type Bootstrap struct {
	mu        sync.RWMutex
	dht       *DHT
	seedNodes []*SeedNode

	seedFile string

	bootstrapped  bool
	lastBootstrap time.Time
}

// BootstrapConfig holds bootstrap configuration.
type BootstrapConfig struct {
	DHT      *DHT
	SeedFile string // path to seed nodes file
}

// NewBootstrap creates a new bootstrap manager.
func NewBootstrap(config *BootstrapConfig) (*Bootstrap, error) {
	if config.DHT == nil {
		return nil, fmt.Errorf("DHT is required")
	}

	seedFile := config.SeedFile
	if seedFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			seedFile = "spaces-seeds.json"
		} else {
			seedFile = filepath.Join(homeDir, ".spaces", "seeds.json")
		}
	}

	b := &Bootstrap{dht: config.DHT, seedFile: seedFile}

	if err := b.loadSeedNodes(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load seed nodes: %w", err)
		}
	}

	return b, nil
}

// AddSeedNode adds or updates a seed node.
func (b *Bootstrap) AddSeedNode(seed *SeedNode) error {
	if seed == nil {
		return fmt.Errorf("seed node is required")
	}
	if seed.Actor == "" {
		return fmt.Errorf("seed node actor id is required")
	}
	if len(seed.Addrs) == 0 {
		return fmt.Errorf("seed node must have at least one address")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.seedNodes {
		if existing.Actor == seed.Actor {
			b.seedNodes[i] = seed
			return b.saveSeedNodes()
		}
	}

	b.seedNodes = append(b.seedNodes, seed)
	return b.saveSeedNodes()
}

// RemoveSeedNode removes a seed node by actor id.
func (b *Bootstrap) RemoveSeedNode(actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, seed := range b.seedNodes {
		if seed.Actor == actor {
			b.seedNodes = append(b.seedNodes[:i], b.seedNodes[i+1:]...)
			return b.saveSeedNodes()
		}
	}
	return fmt.Errorf("seed node not found: %s", actor)
}

// GetSeedNodes returns a copy of all seed nodes.
func (b *Bootstrap) GetSeedNodes() []*SeedNode {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seeds := make([]*SeedNode, len(b.seedNodes))
	for i, seed := range b.seedNodes {
		seeds[i] = &SeedNode{
			Actor: seed.Actor,
			Addrs: append([]string{}, seed.Addrs...),
			Name:  seed.Name,
		}
	}
	return seeds
}

// Bootstrap connects to configured seed nodes and performs initial peer
// discovery.
func (b *Bootstrap) Bootstrap(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.seedNodes) == 0 {
		return fmt.Errorf("no seed nodes configured")
	}

	connected := 0
	for _, seed := range b.seedNodes {
		if err := b.connectToSeed(ctx, seed); err != nil {
			fmt.Printf("bootstrap: failed to connect to seed %s (%s): %v\n", seed.Name, seed.Actor, err)
			continue
		}
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any seed nodes")
	}

	if err := b.performPeerDiscovery(ctx); err != nil {
		fmt.Printf("bootstrap: peer discovery failed: %v\n", err)
	}

	b.bootstrapped = true
	b.lastBootstrap = time.Now()
	return nil
}

// IsBootstrapped returns whether bootstrap has completed.
func (b *Bootstrap) IsBootstrapped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bootstrapped
}

// GetLastBootstrapTime returns the time of the last successful bootstrap.
func (b *Bootstrap) GetLastBootstrapTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastBootstrap
}

func (b *Bootstrap) connectToSeed(ctx context.Context, seed *SeedNode) error {
	actor, err := actorFromHex(seed.Actor)
	if err != nil {
		return fmt.Errorf("parse seed actor id: %w", err)
	}

	seedNode := NewNode(actor, seed.Addrs)
	b.dht.AddNode(seedNode)

	if b.dht.network != nil {
		ping := Frame{Kind: FramePing, From: b.dht.identity.ActorId(), Seq: b.dht.nextSeq(), Payload: []byte("bootstrap")}
		if err := b.dht.network.SendMessage(ctx, seedNode, ping); err != nil {
			return fmt.Errorf("ping seed node: %w", err)
		}
	}
	return nil
}

func (b *Bootstrap) performPeerDiscovery(ctx context.Context) error {
	for i := 0; i < constants.DHTAlpha; i++ {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			continue
		}
		// Expected to miss for random keys; nodes encountered along the
		// way still populate the routing table.
		_, _ = b.dht.Get(ctx, randomKey)
	}

	presenceKey := GetPresenceKey(b.dht.networkID, b.dht.identity.ActorId())
	_, _ = b.dht.Get(ctx, presenceKey)
	return nil
}

func (b *Bootstrap) loadSeedNodes() error {
	data, err := os.ReadFile(b.seedFile)
	if err != nil {
		return err
	}

	var seeds []*SeedNode
	if err := json.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	b.seedNodes = seeds
	return nil
}

func (b *Bootstrap) saveSeedNodes() error {
	if err := os.MkdirAll(filepath.Dir(b.seedFile), 0700); err != nil {
		return fmt.Errorf("create seed directory: %w", err)
	}

	data, err := json.MarshalIndent(b.seedNodes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seed nodes: %w", err)
	}

	if err := os.WriteFile(b.seedFile, data, 0600); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}

// GetSeedFile returns the path to the seed file.
func (b *Bootstrap) GetSeedFile() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seedFile
}

// SetSeedFile sets the path to the seed file and reloads it.
func (b *Bootstrap) SetSeedFile(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seedFile = path
	return b.loadSeedNodes()
}

func actorFromHex(s string) (identity.ActorId, error) {
	var actor identity.ActorId
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return actor, err
	}
	if len(decoded) != len(actor) {
		return actor, fmt.Errorf("actor id must be %d bytes, got %d", len(actor), len(decoded))
	}
	copy(actor[:], decoded)
	return actor, nil
}
