// Package swim implements the SWIM (Scalable Weakly-consistent
// Infection-style Process group Membership) failure detector used to track
// peer liveness alongside DHT-based discovery (spec.md §5).
package swim

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/identity"
)

// FrameKind identifies the kind of SWIM protocol message.
type FrameKind uint8

const (
	FramePing FrameKind = iota
	FrameAck
	FrameNack
	FramePingReq
	FramePingResp
	FrameSuspect
	FrameAlive
	FrameConfirm
	FrameLeave
)

// Frame is the message envelope exchanged between SWIM peers.
type Frame struct {
	Kind FrameKind
	From identity.ActorId
	Seq  uint64

	PingSeq   uint64           // FramePing/FrameAck/FrameNack: the probe sequence being acked
	Target    identity.ActorId // FramePingReq/FramePingResp: the member being probed indirectly
	Requestor identity.ActorId // FramePingReq: who asked for the indirect probe

	Subject     identity.ActorId // FrameSuspect/FrameAlive/FrameConfirm/FrameLeave
	Incarnation uint64
}

// NetworkInterface sends and receives SWIM frames.
type NetworkInterface interface {
	SendMessage(ctx context.Context, target *Member, frame Frame) error
	BroadcastMessage(ctx context.Context, frame Frame) error
}

// Config holds SWIM configuration.
type Config struct {
	Identity         *identity.Identity
	NetworkID        string
	Network          NetworkInterface
	BindAddr         string
	ProbeInterval    time.Duration
	PingTimeout      time.Duration
	IndirectTimeout  time.Duration
	SuspicionTimeout time.Duration
}

// SWIM is a single node's view of the failure detector.
type SWIM struct {
	mu sync.RWMutex

	identity         *identity.Identity
	networkID        string
	network          NetworkInterface
	bindAddr         string
	probeInterval    time.Duration
	pingTimeout      time.Duration
	indirectTimeout  time.Duration
	suspicionTimeout time.Duration

	localMember *Member
	incarnation uint64
	sequenceNum uint64

	members map[identity.ActorId]*Member

	pendingPings  map[uint64]*Member
	indirectPings map[uint64]*indirectPingState

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type indirectPingState struct {
	target    *Member
	requestor identity.ActorId
	startTime time.Time
	timeout   time.Duration
}

// New creates a new SWIM instance.
func New(config *Config) (*SWIM, error) {
	if config.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if config.NetworkID == "" {
		return nil, fmt.Errorf("network id is required")
	}
	if config.Network == nil {
		return nil, fmt.Errorf("network interface is required")
	}

	probeInterval := config.ProbeInterval
	if probeInterval == 0 {
		probeInterval = constants.SWIMProbeInterval
	}
	pingTimeout := config.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = constants.SWIMPingTimeout
	}
	indirectTimeout := config.IndirectTimeout
	if indirectTimeout == 0 {
		indirectTimeout = constants.SWIMIndirectTimeout
	}
	suspicionTimeout := config.SuspicionTimeout
	if suspicionTimeout == 0 {
		suspicionTimeout = constants.SWIMSuspicionTime
	}

	localMember := NewMember(config.Identity.ActorId(), []string{config.BindAddr})

	return &SWIM{
		identity:         config.Identity,
		networkID:        config.NetworkID,
		network:          config.Network,
		bindAddr:         config.BindAddr,
		probeInterval:    probeInterval,
		pingTimeout:      pingTimeout,
		indirectTimeout:  indirectTimeout,
		suspicionTimeout: suspicionTimeout,
		localMember:      localMember,
		members:          make(map[identity.ActorId]*Member),
		pendingPings:     make(map[uint64]*Member),
		indirectPings:    make(map[uint64]*indirectPingState),
		done:             make(chan struct{}),
	}, nil
}

// Start starts the SWIM probe loop.
func (s *SWIM) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("SWIM is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.probeLoop()
	return nil
}

// Stop stops the SWIM protocol.
func (s *SWIM) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// AddMember adds a new member to the membership list.
func (s *SWIM) AddMember(actor identity.ActorId, addrs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if actor == s.identity.ActorId() {
		return fmt.Errorf("cannot add self as member")
	}

	if existing, ok := s.members[actor]; ok {
		existing.UpdateAddresses(addrs)
		return nil
	}

	s.members[actor] = NewMember(actor, addrs)
	return nil
}

// GetMember returns a member by actor id.
func (s *SWIM) GetMember(actor identity.ActorId) *Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[actor]
}

// GetMembers returns all known members.
func (s *SWIM) GetMembers() []*Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*Member, 0, len(s.members))
	for _, member := range s.members {
		members = append(members, member)
	}
	return members
}

// PingMember sends a direct ping to a member.
func (s *SWIM) PingMember(ctx context.Context, target *Member) error {
	seqNo := s.getNextSequence()

	s.mu.Lock()
	s.pendingPings[seqNo] = target
	s.mu.Unlock()

	target.UpdateLastPing()

	frame := Frame{Kind: FramePing, From: s.identity.ActorId(), Seq: s.getNextSequence(), PingSeq: seqNo}
	return s.network.SendMessage(ctx, target, frame)
}

// HandleMessage dispatches an incoming SWIM frame.
func (s *SWIM) HandleMessage(ctx context.Context, frame Frame) error {
	switch frame.Kind {
	case FramePing:
		return s.handlePing(ctx, frame)
	case FrameAck:
		return s.handleAck(ctx, frame)
	case FrameNack:
		return s.handleNack(ctx, frame)
	case FramePingReq:
		return s.handlePingReq(ctx, frame)
	case FramePingResp:
		return s.handlePingResp(ctx, frame)
	case FrameSuspect:
		return s.handleSuspect(ctx, frame)
	case FrameAlive:
		return s.handleAlive(ctx, frame)
	case FrameConfirm:
		return s.handleConfirm(ctx, frame)
	case FrameLeave:
		return s.handleLeave(ctx, frame)
	default:
		return fmt.Errorf("unsupported SWIM frame kind: %d", frame.Kind)
	}
}

func (s *SWIM) getNextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequenceNum++
	return s.sequenceNum
}

func (s *SWIM) probeLoop() {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probeRandomMember()
		}
	}
}

func (s *SWIM) probeRandomMember() {
	s.mu.RLock()
	members := make([]*Member, 0, len(s.members))
	for _, member := range s.members {
		if member.IsAlive() {
			members = append(members, member)
		}
	}
	s.mu.RUnlock()

	if len(members) == 0 {
		return
	}

	n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(members))))
	target := members[n.Int64()]

	ctx, cancel := context.WithTimeout(s.ctx, s.pingTimeout)
	defer cancel()

	if err := s.PingMember(ctx, target); err != nil {
		s.indirectPing(target)
	}
}

// indirectPing marks a member suspect after a failed direct probe.
// Routing the probe through intermediaries (the SWIM k-random-relay step)
// is not yet implemented; direct-probe failure alone drives suspicion.
func (s *SWIM) indirectPing(target *Member) {
	target.SetState(StateSuspect, target.Incarnation)
}

func (s *SWIM) handlePing(ctx context.Context, frame Frame) error {
	ack := Frame{Kind: FrameAck, From: s.identity.ActorId(), Seq: s.getNextSequence(), PingSeq: frame.PingSeq}

	sender := s.GetMember(frame.From)
	if sender == nil {
		return fmt.Errorf("unknown sender: %s", frame.From)
	}
	return s.network.SendMessage(ctx, sender, ack)
}

func (s *SWIM) handleAck(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	target, exists := s.pendingPings[frame.PingSeq]
	if exists {
		delete(s.pendingPings, frame.PingSeq)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}

	target.UpdateLastSeen()
	if target.IsSuspect() {
		target.SetState(StateAlive, target.Incarnation+1)
	}
	return nil
}

func (s *SWIM) handleNack(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	target, exists := s.pendingPings[frame.PingSeq]
	if exists {
		delete(s.pendingPings, frame.PingSeq)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}

	target.SetState(StateSuspect, target.Incarnation)
	return nil
}

// handlePingReq accepts an indirect-ping request and drops it: this node
// does not probe a target on a requestor's behalf.
func (s *SWIM) handlePingReq(ctx context.Context, frame Frame) error {
	return nil
}

// handlePingResp accepts the response to an indirect-ping request and
// drops it; member state is not changed.
func (s *SWIM) handlePingResp(ctx context.Context, frame Frame) error {
	return nil
}

func (s *SWIM) handleSuspect(ctx context.Context, frame Frame) error {
	if member := s.GetMember(frame.Subject); member != nil {
		member.SetState(StateSuspect, frame.Incarnation)
	}
	return nil
}

func (s *SWIM) handleAlive(ctx context.Context, frame Frame) error {
	if member := s.GetMember(frame.Subject); member != nil {
		member.SetState(StateAlive, frame.Incarnation)
	}
	return nil
}

func (s *SWIM) handleConfirm(ctx context.Context, frame Frame) error {
	if member := s.GetMember(frame.Subject); member != nil {
		member.SetState(StateFailed, frame.Incarnation)
	}
	return nil
}

func (s *SWIM) handleLeave(ctx context.Context, frame Frame) error {
	if member := s.GetMember(frame.Subject); member != nil {
		member.SetState(StateLeft, frame.Incarnation)
	}
	return nil
}
