// Package meshnet bridges gossipsync's abstract Network interface onto a
// concrete pkg/transport connection. Every connection — dialed or accepted
// — first completes a Noise IK identity handshake (pkg/noisesession) before
// any gossipsync.Frame is exchanged: the self-signed TLS certificate used
// by the transport proves nothing about which actor is on the other end,
// so meshnet uses the already-signed ClientHello/ServerHello exchange to
// bind the connection to a verified actor id, and the handshake's sequence
// tracker to reject replayed frames on that connection. Frames themselves
// are still framed as length-prefixed canonical CBOR over the transport
// connection, with one persistent outbound connection cached per peer.
package meshnet

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/internal/logging"
	"github.com/dashchat/spaces-engine/pkg/gossipsync"
	"github.com/dashchat/spaces-engine/pkg/identity"
	noiseik "github.com/dashchat/spaces-engine/pkg/noisesession"
	"github.com/dashchat/spaces-engine/pkg/transport"
)

const maxFrameSize = 16 << 20

// handshakeGroupID scopes the Noise IK identity handshake meshnet performs
// on every connection. It is independent of any chat space's own group id
// — meshnet carries frames for every space a node participates in over the
// same peer connection, so the handshake authenticates the peer actor
// once per connection rather than once per space.
const handshakeGroupID = "spaces-engine-mesh/1"

var logger = logging.New("meshnet")

// Resolver maps a peer's actor id to a dialable transport address.
type Resolver interface {
	Resolve(actor identity.ActorId) (addr string, ok bool)
}

// ResolverFunc adapts a plain function to a Resolver.
type ResolverFunc func(actor identity.ActorId) (string, bool)

func (f ResolverFunc) Resolve(actor identity.ActorId) (string, bool) { return f(actor) }

// FrameHandler receives frames read off an accepted or dialed connection,
// once the connection's Noise IK handshake has verified the sender.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame gossipsync.Frame) error
}

// sessionConn pairs a transport connection with the completed handshake
// that authenticated it, so every frame sent or received on the connection
// can be sequence-numbered and checked for replay.
type sessionConn struct {
	conn transport.Conn
	hs   *noiseik.Handshake
}

func (sc *sessionConn) send(frame gossipsync.Frame) error {
	return writeSessionFrame(sc.conn, sc.hs.NextSendSequence(), frame)
}

func (sc *sessionConn) recv() (gossipsync.Frame, error) {
	seq, frame, err := readSessionFrame(sc.conn)
	if err != nil {
		return gossipsync.Frame{}, err
	}
	if !sc.hs.ValidateReceiveSequence(seq) {
		return gossipsync.Frame{}, fmt.Errorf("meshnet: rejected replayed or out-of-window sequence %d", seq)
	}
	return frame, nil
}

// Bridge implements gossipsync.Network over a transport.Transport.
type Bridge struct {
	transport transport.Transport
	tlsConfig *tls.Config
	self      *identity.Identity
	resolver  Resolver
	handler   FrameHandler

	mu    sync.Mutex
	conns map[identity.ActorId]*sessionConn
}

// New creates a Bridge. tlsConfig is cloned per dial/listen by the
// underlying transport. self is the local node's identity, used to sign
// and verify the Noise IK handshake every connection performs before it is
// trusted to carry frames.
func New(t transport.Transport, tlsConfig *tls.Config, self *identity.Identity, resolver Resolver, handler FrameHandler) *Bridge {
	return &Bridge{
		transport: t,
		tlsConfig: tlsConfig,
		self:      self,
		resolver:  resolver,
		handler:   handler,
		conns:     make(map[identity.ActorId]*sessionConn),
	}
}

// Serve accepts inbound connections, authenticates each over Noise IK, and
// reads frames from each until ctx is cancelled or the listener is closed.
func (b *Bridge) Serve(ctx context.Context, listener transport.Listener) error {
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
		go b.acceptConn(ctx, conn)
	}
}

func (b *Bridge) acceptConn(ctx context.Context, conn transport.Conn) {
	peer, hs, err := b.respondHandshake(conn)
	if err != nil {
		logger.Printf("handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	sc := &sessionConn{conn: conn, hs: hs}
	b.mu.Lock()
	b.conns[peer] = sc
	b.mu.Unlock()
	b.readLoop(ctx, peer, sc)
}

// Send implements gossipsync.Network by dialing (or reusing) a connection
// to target and writing the framed CBOR payload.
func (b *Bridge) Send(ctx context.Context, target identity.ActorId, frame gossipsync.Frame) error {
	sc, err := b.getOrDial(ctx, target)
	if err != nil {
		return err
	}
	if err := sc.send(frame); err != nil {
		b.drop(target)
		return err
	}
	return nil
}

// Broadcast sends frame to every peer this bridge currently has a live
// connection to. Peers never dialed (no prior Send, no inbound connection)
// are not reached; mesh membership in pkg/gossipsync is what keeps the set
// of live connections aligned with a topic's active participants.
func (b *Bridge) Broadcast(ctx context.Context, frame gossipsync.Frame) error {
	b.mu.Lock()
	targets := make([]identity.ActorId, 0, len(b.conns))
	for actor := range b.conns {
		targets = append(targets, actor)
	}
	b.mu.Unlock()

	var firstErr error
	for _, actor := range targets {
		if err := b.Send(ctx, actor, frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bridge) getOrDial(ctx context.Context, target identity.ActorId) (*sessionConn, error) {
	b.mu.Lock()
	if sc, ok := b.conns[target]; ok {
		b.mu.Unlock()
		return sc, nil
	}
	b.mu.Unlock()

	addr, ok := b.resolver.Resolve(target)
	if !ok {
		return nil, fmt.Errorf("meshnet: no known address for peer %s", target)
	}

	conn, err := b.transport.Dial(ctx, addr, b.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("meshnet: dial %s: %w", addr, err)
	}

	hs, err := b.initiateHandshake(conn, target)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("meshnet: handshake with %s: %w", target, err)
	}

	sc := &sessionConn{conn: conn, hs: hs}
	b.mu.Lock()
	b.conns[target] = sc
	b.mu.Unlock()

	go b.readLoop(ctx, target, sc)
	return sc, nil
}

func (b *Bridge) drop(target identity.ActorId) {
	b.mu.Lock()
	delete(b.conns, target)
	b.mu.Unlock()
}

func (b *Bridge) readLoop(ctx context.Context, peer identity.ActorId, sc *sessionConn) {
	defer sc.conn.Close()
	defer b.drop(peer)
	for {
		frame, err := sc.recv()
		if err != nil {
			return
		}
		if frame.From != peer {
			logger.Printf("dropping frame claiming from=%s over connection authenticated as %s", frame.From, peer)
			continue
		}
		if err := b.handler.HandleFrame(ctx, frame); err != nil {
			logger.Printf("handle frame from %s: %v", frame.From, err)
			continue
		}
	}
}

// initiateHandshake runs the client side of the Noise IK identity
// handshake: send a signed ClientHello, verify the peer's ServerHello
// really comes from target, and fold it into the handshake state.
func (b *Bridge) initiateHandshake(conn transport.Conn, target identity.ActorId) (*noiseik.Handshake, error) {
	hs := noiseik.NewHandshake(b.self, handshakeGroupID)

	hello, err := hs.CreateClientHello()
	if err != nil {
		return nil, fmt.Errorf("create client hello: %w", err)
	}
	payload, err := hello.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal client hello: %w", err)
	}
	if err := writeLengthPrefixed(conn, payload); err != nil {
		return nil, fmt.Errorf("send client hello: %w", err)
	}

	respPayload, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, fmt.Errorf("read server hello: %w", err)
	}
	var serverHello noiseik.ServerHello
	if err := serverHello.Unmarshal(respPayload); err != nil {
		return nil, fmt.Errorf("decode server hello: %w", err)
	}
	if serverHello.From != target.String() {
		return nil, fmt.Errorf("server identified as %s, expected %s", serverHello.From, target)
	}
	if err := serverHello.Verify(ed25519.PublicKey(target[:])); err != nil {
		return nil, fmt.Errorf("verify server hello: %w", err)
	}
	if err := hs.ProcessServerHello(&serverHello); err != nil {
		return nil, err
	}
	return hs, nil
}

// respondHandshake runs the server side: verify the ClientHello's
// signature against the actor id it claims, and answer with a signed
// ServerHello. The verified actor id becomes the connection's identity for
// every frame read from it afterward.
func (b *Bridge) respondHandshake(conn transport.Conn) (identity.ActorId, *noiseik.Handshake, error) {
	var zero identity.ActorId

	payload, err := readLengthPrefixed(conn)
	if err != nil {
		return zero, nil, fmt.Errorf("read client hello: %w", err)
	}
	var clientHello noiseik.ClientHello
	if err := clientHello.Unmarshal(payload); err != nil {
		return zero, nil, fmt.Errorf("decode client hello: %w", err)
	}
	peer, err := identity.ParseActorId(clientHello.From)
	if err != nil {
		return zero, nil, fmt.Errorf("parse client actor id: %w", err)
	}
	if err := clientHello.Verify(ed25519.PublicKey(peer[:])); err != nil {
		return zero, nil, fmt.Errorf("verify client hello: %w", err)
	}

	hs := noiseik.NewHandshake(b.self, handshakeGroupID)
	serverHello, err := hs.ProcessClientHello(&clientHello)
	if err != nil {
		return zero, nil, fmt.Errorf("process client hello: %w", err)
	}
	respPayload, err := serverHello.Marshal()
	if err != nil {
		return zero, nil, fmt.Errorf("marshal server hello: %w", err)
	}
	if err := writeLengthPrefixed(conn, respPayload); err != nil {
		return zero, nil, fmt.Errorf("send server hello: %w", err)
	}
	return peer, hs, nil
}

func writeSessionFrame(w io.Writer, seq uint64, frame gossipsync.Frame) error {
	var seqHeader [8]byte
	binary.BigEndian.PutUint64(seqHeader[:], seq)
	if _, err := w.Write(seqHeader[:]); err != nil {
		return err
	}
	return writeFrame(w, frame)
}

func readSessionFrame(r io.Reader) (uint64, gossipsync.Frame, error) {
	var seqHeader [8]byte
	if _, err := io.ReadFull(r, seqHeader[:]); err != nil {
		return 0, gossipsync.Frame{}, err
	}
	frame, err := readFrame(r)
	if err != nil {
		return 0, gossipsync.Frame{}, err
	}
	return binary.BigEndian.Uint64(seqHeader[:]), frame, nil
}

func writeFrame(w io.Writer, frame gossipsync.Frame) error {
	payload, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("meshnet: encode frame: %w", err)
	}
	return writeLengthPrefixed(w, payload)
}

func readFrame(r io.Reader) (gossipsync.Frame, error) {
	payload, err := readLengthPrefixed(r)
	if err != nil {
		return gossipsync.Frame{}, err
	}
	var frame gossipsync.Frame
	if err := codec.Unmarshal(payload, &frame); err != nil {
		return gossipsync.Frame{}, fmt.Errorf("meshnet: decode frame: %w", err)
	}
	return frame, nil
}

func writeLengthPrefixed(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("meshnet: frame too large: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("meshnet: frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
