// Package dht implements presence management: publishing and refreshing
// the signed record that makes an actor discoverable.
package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
)

// PresenceManager manages presence records and refresh cycles.
type PresenceManager struct {
	mu        sync.RWMutex
	dht       *DHT
	identity  *identity.Identity
	networkID string

	currentRecord *PresenceRecord

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	addresses    []string
	capabilities []string
	nickname     string
}

// PresenceConfig holds configuration for presence management.
type PresenceConfig struct {
	NetworkID    string
	Identity     *identity.Identity
	Addresses    []string
	Capabilities []string
	Nickname     string
}

// NewPresenceManager creates a new presence manager.
func NewPresenceManager(dht *DHT, config *PresenceConfig) (*PresenceManager, error) {
	if dht == nil {
		return nil, fmt.Errorf("DHT is required")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if config.NetworkID == "" {
		return nil, fmt.Errorf("network id is required")
	}

	capabilities := config.Capabilities
	if capabilities == nil {
		capabilities = []string{"presence", "dht"}
	}

	return &PresenceManager{
		dht:          dht,
		identity:     config.Identity,
		networkID:    config.NetworkID,
		addresses:    config.Addresses,
		capabilities: capabilities,
		nickname:     config.Nickname,
		done:         make(chan struct{}),
	}, nil
}

// Start publishes the initial presence record and begins refresh cycles.
func (pm *PresenceManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.ctx != nil {
		return fmt.Errorf("presence manager is already running")
	}

	pm.ctx, pm.cancel = context.WithCancel(ctx)

	if err := pm.publishPresence(); err != nil {
		pm.cancel()
		return fmt.Errorf("publish initial presence: %w", err)
	}

	go pm.refreshLoop()
	return nil
}

// Stop stops the presence manager.
func (pm *PresenceManager) Stop() error {
	pm.mu.Lock()
	if pm.cancel != nil {
		pm.cancel()
		pm.cancel = nil
	}
	pm.mu.Unlock()

	select {
	case <-pm.done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// GetCurrentRecord returns a copy of the current presence record.
func (pm *PresenceManager) GetCurrentRecord() *PresenceRecord {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.currentRecord == nil {
		return nil
	}
	record := *pm.currentRecord
	return &record
}

// UpdateAddresses updates the addresses carried in the presence record.
func (pm *PresenceManager) UpdateAddresses(addresses []string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.addresses = addresses
	if pm.ctx != nil {
		return pm.publishPresence()
	}
	return nil
}

// UpdateCapabilities updates the capabilities carried in the presence
// record.
func (pm *PresenceManager) UpdateCapabilities(capabilities []string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.capabilities = capabilities
	if pm.ctx != nil {
		return pm.publishPresence()
	}
	return nil
}

// UpdateNickname updates the display nickname.
func (pm *PresenceManager) UpdateNickname(nickname string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.nickname = nickname
	if pm.ctx != nil {
		return pm.publishPresence()
	}
	return nil
}

func (pm *PresenceManager) publishPresence() error {
	record, err := NewPresenceRecord(pm.networkID, pm.identity, pm.nickname, pm.addresses, pm.capabilities)
	if err != nil {
		return fmt.Errorf("create presence record: %w", err)
	}

	if err := record.IsValid(); err != nil {
		return fmt.Errorf("invalid presence record: %w", err)
	}

	presenceKey := GetPresenceKey(pm.networkID, pm.identity.ActorId())
	recordBytes, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize presence record: %w", err)
	}

	if err := pm.dht.Put(pm.ctx, presenceKey, recordBytes); err != nil {
		return fmt.Errorf("store presence record in DHT: %w", err)
	}

	if pm.dht.network != nil {
		frame := Frame{
			Kind:     FrameAnnouncePresence,
			From:     pm.identity.ActorId(),
			Seq:      pm.dht.nextSeq(),
			Presence: record,
		}
		if err := pm.dht.network.BroadcastMessage(pm.ctx, frame); err != nil {
			fmt.Printf("presence: broadcast failed: %v\n", err)
		}
	}

	pm.currentRecord = record
	return nil
}

func (pm *PresenceManager) refreshLoop() {
	defer close(pm.done)

	ticker := time.NewTicker(constants.PresenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.mu.Lock()
			if err := pm.publishPresence(); err != nil {
				fmt.Printf("presence: refresh failed: %v\n", err)
			}
			pm.mu.Unlock()
		}
	}
}
