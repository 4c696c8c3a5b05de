package dht

import (
	"context"
	"crypto/tls"

	"github.com/dashchat/spaces-engine/internal/discovery/swim"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/transport"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	NetworkID  string
	Identity   *identity.Identity
	Transport  transport.Transport
	TLSConfig  *tls.Config
	ListenAddr string   // this node's discovery bind address, advertised in its own presence record
	SeedFile   string   // path to the bootstrap seed file; empty uses the default under $HOME
	Addrs      []string // addresses advertised in this node's presence record; defaults to [ListenAddr]

	// OnDiscover, if set, is invoked once for every actor first seen
	// through a presence announcement, so a caller can register it as a
	// bootstrap author on its own inbox topic (spec.md §4.8).
	OnDiscover func(actor identity.ActorId)
}

// Service combines the DHT, its presence publisher, bootstrap seeding, and
// the SWIM failure detector into the single PeerDiscovery component
// spec.md §1 and §4.8 describe: it resolves an actor to an address for
// pkg/meshnet (implementing meshnet.Resolver structurally) and drives new
// peers into the AuthorStore's bootstrap registration via OnDiscover.
type Service struct {
	net       *PeerNet
	dht       *DHT
	presence  *PresenceManager
	bootstrap *Bootstrap
	swim      *swim.SWIM
}

// NewService builds a Service. Call Start to begin serving discovery
// connections and publishing presence; call Bootstrap afterward to seed
// the routing table from configured seed nodes.
func NewService(cfg ServiceConfig) (*Service, error) {
	net := NewPeerNet(cfg.Transport, cfg.TLSConfig)

	addrs := cfg.Addrs
	if len(addrs) == 0 {
		addrs = []string{cfg.ListenAddr}
	}

	var sw *swim.SWIM

	d, err := New(&Config{
		NetworkID: cfg.NetworkID,
		Identity:  cfg.Identity,
		Network:   net,
		OnDiscover: func(actor identity.ActorId, discoveredAddrs []string) {
			if sw != nil {
				_ = sw.AddMember(actor, discoveredAddrs)
			}
			if cfg.OnDiscover != nil {
				cfg.OnDiscover(actor)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	sw, err = swim.New(&swim.Config{
		Identity:  cfg.Identity,
		NetworkID: cfg.NetworkID,
		Network:   swimNet{peer: net},
		BindAddr:  cfg.ListenAddr,
	})
	if err != nil {
		return nil, err
	}
	net.bind(d, sw)

	presence, err := NewPresenceManager(d, &PresenceConfig{
		NetworkID: cfg.NetworkID,
		Identity:  cfg.Identity,
		Addresses: addrs,
	})
	if err != nil {
		return nil, err
	}

	bootstrap, err := NewBootstrap(&BootstrapConfig{DHT: d, SeedFile: cfg.SeedFile})
	if err != nil {
		return nil, err
	}

	return &Service{net: net, dht: d, presence: presence, bootstrap: bootstrap, swim: sw}, nil
}

// Serve accepts discovery connections on listener until ctx is cancelled.
// Run it in its own goroutine alongside Start.
func (s *Service) Serve(ctx context.Context, listener transport.Listener) error {
	return s.net.Serve(ctx, listener)
}

// Start begins the DHT's maintenance loop, the SWIM probe loop, and the
// presence publish/refresh cycle.
func (s *Service) Start(ctx context.Context) error {
	if err := s.dht.Start(ctx); err != nil {
		return err
	}
	if err := s.swim.Start(ctx); err != nil {
		return err
	}
	return s.presence.Start(ctx)
}

// Stop tears down the background loops started by Start.
func (s *Service) Stop() {
	s.presence.Stop()
	s.swim.Stop()
	s.dht.Stop()
}

// Bootstrap connects to configured seed nodes and performs initial peer
// discovery. It is a no-op returning an error if no seeds are configured,
// which callers may treat as informational on a first-run seed node.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.bootstrap.Bootstrap(ctx)
}

// AddSeed registers addr as a bootstrap contact for actor.
func (s *Service) AddSeed(actor identity.ActorId, name string, addrs []string) error {
	return s.bootstrap.AddSeedNode(&SeedNode{Actor: actor.String(), Addrs: addrs, Name: name})
}

// Resolve implements meshnet.Resolver: it looks up actor's last-known
// address from the DHT routing table, populated by presence announcements
// and bootstrap seeding.
func (s *Service) Resolve(actor identity.ActorId) (string, bool) {
	node, ok := s.dht.GetNode(actor)
	if !ok || len(node.Addrs) == 0 {
		return "", false
	}
	return node.Addrs[0], true
}
