package meshnet

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dashchat/spaces-engine/pkg/gossipsync"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/transport"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := gossipsync.Frame{Kind: gossipsync.FrameHeartbeat, From: id.ActorId(), Seq: 7}

	var buf bytes.Buffer
	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.Kind != want.Kind || got.From != want.From || got.Seq != want.Seq {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(&buf); err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
}

func TestSessionFrameRoundTripChecksSequence(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := gossipsync.Frame{Kind: gossipsync.FrameHeartbeat, From: id.ActorId(), Seq: 1}

	var buf bytes.Buffer
	if err := writeSessionFrame(&buf, 42, want); err != nil {
		t.Fatalf("writeSessionFrame: %v", err)
	}

	seq, got, err := readSessionFrame(&buf)
	if err != nil {
		t.Fatalf("readSessionFrame: %v", err)
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
	if got.Kind != want.Kind || got.From != want.From {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
	}
}

// pipeConn adapts a net.Conn (as produced by net.Pipe) to transport.Conn.
type pipeConn struct {
	net.Conn
}

func (pipeConn) ConnectionState() tls.ConnectionState { return tls.ConnectionState{} }

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

type pipeListener struct {
	accept chan transport.Conn
	closed chan struct{}
	addr   net.Addr
}

func (l *pipeListener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, fmt.Errorf("listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error {
	close(l.closed)
	return nil
}

func (l *pipeListener) Addr() net.Addr { return l.addr }

// pipeTransport is an in-memory transport.Transport backed by net.Pipe,
// standing in for QUIC/TCP in tests that only exercise bridge framing,
// handshaking, and connection caching.
type pipeTransport struct {
	listeners map[string]*pipeListener
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{listeners: make(map[string]*pipeListener)}
}

func (t *pipeTransport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Listener, error) {
	l := &pipeListener{accept: make(chan transport.Conn, 4), closed: make(chan struct{}), addr: pipeAddr(addr)}
	t.listeners[addr] = l
	return l, nil
}

func (t *pipeTransport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Conn, error) {
	l, ok := t.listeners[addr]
	if !ok {
		return nil, fmt.Errorf("no listener for %s", addr)
	}
	client, server := net.Pipe()
	l.accept <- pipeConn{server}
	return pipeConn{client}, nil
}

func (t *pipeTransport) Name() string     { return "pipe" }
func (t *pipeTransport) DefaultPort() int { return 0 }

type recordingHandler struct {
	received chan gossipsync.Frame
}

func (h *recordingHandler) HandleFrame(ctx context.Context, frame gossipsync.Frame) error {
	h.received <- frame
	return nil
}

func TestBridgeSendDeliversFrameToListener(t *testing.T) {
	tr := newPipeTransport()
	server, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	client, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	handler := &recordingHandler{received: make(chan gossipsync.Frame, 1)}
	serverBridge := New(tr, nil, server, ResolverFunc(func(identity.ActorId) (string, bool) { return "", false }), handler)

	listener, err := tr.Listen(context.Background(), "peer-a", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverBridge.Serve(ctx, listener)

	resolver := ResolverFunc(func(actor identity.ActorId) (string, bool) {
		if actor == server.ActorId() {
			return "peer-a", true
		}
		return "", false
	})
	clientBridge := New(tr, nil, client, resolver, &recordingHandler{received: make(chan gossipsync.Frame, 1)})

	frame := gossipsync.Frame{Kind: gossipsync.FrameHeartbeat, From: client.ActorId(), Seq: 1}
	if err := clientBridge.Send(context.Background(), server.ActorId(), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-handler.received:
		if got.Seq != frame.Seq || got.From != frame.From {
			t.Fatalf("unexpected frame: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}
}

func TestBridgeRejectsFrameClaimingWrongSender(t *testing.T) {
	tr := newPipeTransport()
	server, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	client, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	impersonated, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	handler := &recordingHandler{received: make(chan gossipsync.Frame, 1)}
	serverBridge := New(tr, nil, server, ResolverFunc(func(identity.ActorId) (string, bool) { return "", false }), handler)

	listener, err := tr.Listen(context.Background(), "peer-b", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverBridge.Serve(ctx, listener)

	resolver := ResolverFunc(func(actor identity.ActorId) (string, bool) {
		if actor == server.ActorId() {
			return "peer-b", true
		}
		return "", false
	})
	clientBridge := New(tr, nil, client, resolver, &recordingHandler{received: make(chan gossipsync.Frame, 1)})

	// The connection is authenticated as `client`, so a frame claiming to
	// be from a different actor must be dropped rather than delivered.
	frame := gossipsync.Frame{Kind: gossipsync.FrameHeartbeat, From: impersonated.ActorId(), Seq: 1}
	if err := clientBridge.Send(context.Background(), server.ActorId(), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-handler.received:
		t.Fatalf("expected impersonated frame to be dropped, got %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}
