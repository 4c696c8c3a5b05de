package dht

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/internal/discovery/swim"
	"github.com/dashchat/spaces-engine/internal/logging"
	"github.com/dashchat/spaces-engine/pkg/transport"
)

const maxEnvelopeSize = 1 << 20

var logger = logging.New("discovery")

// envelopeKind tags which protocol's frame an envelope carries, so DHT and
// SWIM traffic can share one connection pool instead of each opening its
// own listener.
type envelopeKind uint8

const (
	envelopeDHT envelopeKind = iota
	envelopeSWIM
)

type wireEnvelope struct {
	Kind envelopeKind `cbor:"k"`
	DHT  *Frame       `cbor:"dht,omitempty"`
	SWIM *swim.Frame  `cbor:"swim,omitempty"`
}

// PeerNet is the shared transport.Transport-backed carrier for both the
// DHT's NetworkInterface and SWIM's NetworkInterface (spec.md §5, peer
// discovery and transport): one dialed or accepted connection per peer
// address, multiplexed by envelope kind, mirroring how pkg/meshnet pools
// one connection per actor for gossip/sync traffic. Discovery frames are
// not Noise-authenticated per connection the way meshnet's are: the
// connection layer here only moves bytes. DHT Put and presence records
// carry an Ed25519 signature, but the receiving DHT does not verify it;
// every inbound request does pass the DHT's SecurityManager rate limiter.
type PeerNet struct {
	transport transport.Transport
	tlsConfig *tls.Config

	mu    sync.Mutex
	conns map[string]transport.Conn

	dht  *DHT
	swim *swim.SWIM
}

// NewPeerNet creates a PeerNet. bind must be called once the DHT and SWIM
// instances that will send through it exist, before any frame is read off
// an accepted or dialed connection.
func NewPeerNet(t transport.Transport, tlsConfig *tls.Config) *PeerNet {
	return &PeerNet{transport: t, tlsConfig: tlsConfig, conns: make(map[string]transport.Conn)}
}

func (p *PeerNet) bind(d *DHT, s *swim.SWIM) {
	p.dht = d
	p.swim = s
}

// Serve accepts inbound discovery connections until ctx is cancelled.
func (p *PeerNet) Serve(ctx context.Context, listener transport.Listener) error {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		addr := conn.RemoteAddr().String()
		p.mu.Lock()
		p.conns[addr] = conn
		p.mu.Unlock()
		go p.readLoop(ctx, addr, conn)
	}
}

func (p *PeerNet) getOrDial(ctx context.Context, addr string) (transport.Conn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.transport.Dial(ctx, addr, p.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("discovery: dial %s: %w", addr, err)
	}

	p.mu.Lock()
	p.conns[addr] = conn
	p.mu.Unlock()
	go p.readLoop(context.Background(), addr, conn)
	return conn, nil
}

func (p *PeerNet) drop(addr string) {
	p.mu.Lock()
	delete(p.conns, addr)
	p.mu.Unlock()
}

func (p *PeerNet) send(ctx context.Context, addr string, env wireEnvelope) error {
	conn, err := p.getOrDial(ctx, addr)
	if err != nil {
		return err
	}
	payload, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("discovery: encode envelope: %w", err)
	}
	if err := writeEnvelopeFrame(conn, payload); err != nil {
		p.drop(addr)
		conn.Close()
		return err
	}
	return nil
}

func (p *PeerNet) connectedAddrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs := make([]string, 0, len(p.conns))
	for addr := range p.conns {
		addrs = append(addrs, addr)
	}
	return addrs
}

func (p *PeerNet) readLoop(ctx context.Context, addr string, conn transport.Conn) {
	defer conn.Close()
	defer p.drop(addr)
	for {
		payload, err := readEnvelopeFrame(conn)
		if err != nil {
			return
		}
		var env wireEnvelope
		if err := codec.Unmarshal(payload, &env); err != nil {
			logger.Printf("decode envelope from %s: %v", addr, err)
			continue
		}
		switch env.Kind {
		case envelopeDHT:
			if env.DHT == nil || p.dht == nil {
				continue
			}
			if err := p.dht.HandleMessage(*env.DHT); err != nil {
				logger.Printf("dht message from %s: %v", addr, err)
			}
		case envelopeSWIM:
			if env.SWIM == nil || p.swim == nil {
				continue
			}
			if err := p.swim.HandleMessage(ctx, *env.SWIM); err != nil {
				logger.Printf("swim message from %s: %v", addr, err)
			}
		}
	}
}

// SendMessage implements dht.NetworkInterface.
func (p *PeerNet) SendMessage(ctx context.Context, target *Node, frame Frame) error {
	if len(target.Addrs) == 0 {
		return fmt.Errorf("discovery: node %s has no known address", target.ActorID)
	}
	f := frame
	return p.send(ctx, target.Addrs[0], wireEnvelope{Kind: envelopeDHT, DHT: &f})
}

// BroadcastMessage implements dht.NetworkInterface.
func (p *PeerNet) BroadcastMessage(ctx context.Context, frame Frame) error {
	var firstErr error
	for _, addr := range p.connectedAddrs() {
		f := frame
		if err := p.send(ctx, addr, wireEnvelope{Kind: envelopeDHT, DHT: &f}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// swimNet adapts PeerNet to swim.NetworkInterface.
type swimNet struct{ peer *PeerNet }

func (s swimNet) SendMessage(ctx context.Context, target *swim.Member, frame swim.Frame) error {
	addrs := target.GetAddresses()
	if len(addrs) == 0 {
		return fmt.Errorf("discovery: swim member has no known address")
	}
	f := frame
	return s.peer.send(ctx, addrs[0], wireEnvelope{Kind: envelopeSWIM, SWIM: &f})
}

func (s swimNet) BroadcastMessage(ctx context.Context, frame swim.Frame) error {
	var firstErr error
	for _, addr := range s.peer.connectedAddrs() {
		f := frame
		if err := s.peer.send(ctx, addr, wireEnvelope{Kind: envelopeSWIM, SWIM: &f}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeEnvelopeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxEnvelopeSize {
		return fmt.Errorf("discovery: envelope too large: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readEnvelopeFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxEnvelopeSize {
		return nil, fmt.Errorf("discovery: envelope too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
