// Package main implements the beenode CLI: a long-running node daemon
// plus thin client subcommands that drive it over the local control API.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	discovery "github.com/dashchat/spaces-engine/internal/discovery"
	"github.com/dashchat/spaces-engine/internal/logging"
	"github.com/dashchat/spaces-engine/pkg/constants"
	"github.com/dashchat/spaces-engine/pkg/control"
	"github.com/dashchat/spaces-engine/pkg/gossipsync"
	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/meshnet"
	"github.com/dashchat/spaces-engine/pkg/node"
	"github.com/dashchat/spaces-engine/pkg/transport"
	_ "github.com/dashchat/spaces-engine/pkg/transport/quic"
	"github.com/dashchat/spaces-engine/pkg/transport/tcp"
)

// meshNetworkID scopes the DHT/SWIM discovery overlay, independent of any
// chat space's own group id: every beenode on the same deployment joins
// one discovery network regardless of which chats it participates in.
const meshNetworkID = "spaces-engine-discovery/1"

const defaultControlAddr = "127.0.0.1:27787"

var daemonLog = logging.New("beenode")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = keygenCommand()
	case "start":
		err = startCommand()
	case "create-group":
		err = createGroupCommand()
	case "add-member":
		err = addMemberCommand()
	case "add-friend":
		err = addFriendCommand()
	case "remove-friend":
		err = removeFriendCommand()
	case "send":
		err = sendCommand()
	case "messages":
		err = messagesCommand()
	case "groups":
		err = groupsCommand()
	case "friends":
		err = friendsCommand()
	case "members":
		err = membersCommand()
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Printf("unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`beenode - end-to-end-encrypted group chat node

Usage:
  beenode <command> [options]

Commands:
  keygen                                  Generate and save a new identity
  start [--listen addr] [--transport quic|tcp] [--peers file]
        [--discovery-listen addr] [--seeds file]
                                           Run the node daemon
  create-group                            Create a new group, print its chat id
  add-member <chat_id> <actor> [level]    Add a member (level: pull|read|write|manage)
  add-friend <actor> <key_agreement_key> [nickname]
                                           Register a friend and invite them
  remove-friend <actor>                   Forget a friend
  send <chat_id> <text>                   Send a message to a group
  messages <chat_id>                      List messages in a group
  groups                                  List groups this node belongs to
  friends                                 List registered friends
  members <chat_id>                       List a group's members
  help                                    Show this help message
`)
}

func identityPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "beenode-identity.json"
	}
	return filepath.Join(homeDir, ".beenode", "identity.json")
}

func loadOrCreateIdentity() (*identity.Identity, error) {
	path := identityPath()
	if _, err := os.Stat(path); err == nil {
		return identity.LoadFromFile(path)
	}

	id, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	if err := id.SaveToFile(path); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}

func keygenCommand() error {
	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	path := identityPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	if err := id.SaveToFile(path); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	fmt.Printf("Identity saved to %s\n", path)
	fmt.Printf("Actor: %s\n", id.ActorId())
	fmt.Printf("Key agreement public key: %x\n", id.KeyAgreementPublicKey)
	return nil
}

// peerBook is a static actor->address table loaded once at startup, tried
// before the live discovery resolver so an address pinned here always
// wins over whatever the DHT last heard.
type peerBook map[string]string

func loadPeerBook(path string) (peerBook, error) {
	book := make(peerBook)
	if path == "" {
		return book, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return book, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("parse peer book: %w", err)
	}
	return book, nil
}

func (b peerBook) Resolve(actor identity.ActorId) (string, bool) {
	addr, ok := b[actor.String()]
	return addr, ok
}

// chainResolver tries each meshnet.Resolver in order, returning the first
// address found. It lets a pinned peerBook entry take priority over an
// address the live discovery service last heard over presence gossip.
type chainResolver []meshnet.Resolver

func (c chainResolver) Resolve(actor identity.ActorId) (string, bool) {
	for _, r := range c {
		if addr, ok := r.Resolve(actor); ok {
			return addr, ok
		}
	}
	return "", false
}

// frameForwarder breaks the construction cycle between meshnet.Bridge
// (needs a FrameHandler) and *node.Node (needs a Network): the bridge is
// built first against the forwarder, then target is set once the node
// exists.
type frameForwarder struct {
	target *node.Node
}

func (f *frameForwarder) HandleFrame(ctx context.Context, frame gossipsync.Frame) error {
	if f.target == nil {
		return nil
	}
	return f.target.HandleFrame(ctx, frame)
}

func startCommand() error {
	listenAddr := "0.0.0.0:27487"
	controlAddr := defaultControlAddr
	peersFile := ""
	discoveryAddr := fmt.Sprintf("0.0.0.0:%d", constants.DefaultSWIMPort)
	seedFile := ""
	transportName := "quic"

	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--listen":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--listen requires a value")
			}
			listenAddr = os.Args[i]
		case "--transport":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--transport requires a value")
			}
			transportName = os.Args[i]
		case "--control":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--control requires a value")
			}
			controlAddr = os.Args[i]
		case "--peers":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--peers requires a value")
			}
			peersFile = os.Args[i]
		case "--discovery-listen":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--discovery-listen requires a value")
			}
			discoveryAddr = os.Args[i]
		case "--seeds":
			i++
			if i >= len(os.Args) {
				return fmt.Errorf("--seeds requires a value")
			}
			seedFile = os.Args[i]
		default:
			return fmt.Errorf("unknown option: %s", os.Args[i])
		}
	}

	id, err := loadOrCreateIdentity()
	if err != nil {
		return err
	}
	fmt.Printf("Actor: %s\n", id.ActorId())

	book, err := loadPeerBook(peersFile)
	if err != nil {
		return err
	}

	t, ok := transport.DefaultRegistry.Get(transportName)
	if !ok {
		return fmt.Errorf("unknown transport %q (registered: %v)", transportName, transport.DefaultRegistry.List())
	}
	tlsConfig := selfSignedTLSConfig()

	listener, err := t.Listen(context.Background(), listenAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	defer listener.Close()
	fmt.Printf("Listening on %s\n", listener.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// meshnet.Bridge needs a FrameHandler and Node needs a Network, so wire
	// them through a forwarder whose target is set once the node exists.
	forwarder := &frameForwarder{}

	discoveryTransport := tcp.New()
	discoveryListener, err := discoveryTransport.Listen(ctx, discoveryAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen on discovery address %s: %w", discoveryAddr, err)
	}
	defer discoveryListener.Close()

	var nodeRef *node.Node
	svc, err := discovery.NewService(discovery.ServiceConfig{
		NetworkID:  meshNetworkID,
		Identity:   id,
		Transport:  discoveryTransport,
		TLSConfig:  tlsConfig,
		ListenAddr: discoveryAddr,
		SeedFile:   seedFile,
		OnDiscover: func(actor identity.ActorId) {
			if nodeRef != nil {
				nodeRef.RegisterDiscoveredPeer(actor)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("build discovery service: %w", err)
	}

	resolver := chainResolver{book, svc}
	bridge := meshnet.New(t, tlsConfig, id, resolver, forwarder)

	n, err := node.New(node.Config{Identity: id, Network: bridge})
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	forwarder.target = n
	nodeRef = n

	go func() {
		if err := bridge.Serve(ctx, listener); err != nil && ctx.Err() == nil {
			daemonLog.Printf("mesh transport stopped: %v", err)
		}
	}()
	go func() {
		if err := svc.Serve(ctx, discoveryListener); err != nil && ctx.Err() == nil {
			daemonLog.Printf("discovery transport stopped: %v", err)
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	defer svc.Stop()
	if err := svc.Bootstrap(ctx); err != nil {
		daemonLog.Printf("bootstrap: %v", err)
	}

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer n.Stop()

	controlListener, err := net.Listen("tcp", controlAddr)
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	defer controlListener.Close()
	fmt.Printf("Control API listening on %s\n", controlListener.Addr())

	server := control.NewServer(n)
	go func() {
		if err := server.Serve(ctx, controlListener); err != nil && ctx.Err() == nil {
			daemonLog.Printf("control API stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("shutting down")
	return nil
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate.
// Peers are authenticated by their long-term signing identity over the
// gossip/sync protocol itself, not by the transport's certificate chain,
// so a fixed CA is unnecessary here.
func selfSignedTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"beenode"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{"spaces/1"},
		InsecureSkipVerify: true,
	}
}

func dialControl() (net.Conn, error) {
	conn, err := net.Dial("tcp", defaultControlAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to node (is it running?): %w", err)
	}
	return conn, nil
}

func callControl(method string, params map[string]interface{}) (control.Response, error) {
	conn, err := dialControl()
	if err != nil {
		return control.Response{}, err
	}
	defer conn.Close()

	request := control.Request{Method: method, ID: method, Params: params}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return control.Response{}, fmt.Errorf("send request: %w", err)
	}

	var response control.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return control.Response{}, fmt.Errorf("read response: %w", err)
	}
	if response.Error != "" {
		return response, fmt.Errorf("%s", response.Error)
	}
	return response, nil
}

func createGroupCommand() error {
	response, err := callControl("create_group", nil)
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	fmt.Printf("Created group: %v\n", result["chat_id"])
	return nil
}

func addMemberCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: beenode add-member <chat_id> <actor> [level]")
	}
	level := "write"
	if len(os.Args) > 4 {
		level = os.Args[4]
	}
	_, err := callControl("add_member", map[string]interface{}{
		"chat_id": os.Args[2],
		"actor":   os.Args[3],
		"level":   level,
	})
	if err != nil {
		return err
	}
	fmt.Println("Member added")
	return nil
}

func addFriendCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: beenode add-friend <actor> <key_agreement_key> [nickname]")
	}
	nickname := ""
	if len(os.Args) > 4 {
		nickname = os.Args[4]
	}
	_, err := callControl("add_friend", map[string]interface{}{
		"actor":             os.Args[2],
		"key_agreement_key": os.Args[3],
		"nickname":          nickname,
	})
	if err != nil {
		return err
	}
	fmt.Println("Friend added")
	return nil
}

func removeFriendCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: beenode remove-friend <actor>")
	}
	_, err := callControl("remove_friend", map[string]interface{}{"actor": os.Args[2]})
	if err != nil {
		return err
	}
	fmt.Println("Friend removed")
	return nil
}

func sendCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: beenode send <chat_id> <text>")
	}
	response, err := callControl("send_message", map[string]interface{}{
		"chat_id": os.Args[2],
		"content": os.Args[3],
	})
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	fmt.Printf("Sent: %v\n", result["operation_id"])
	return nil
}

func messagesCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: beenode messages <chat_id>")
	}
	response, err := callControl("get_messages", map[string]interface{}{"chat_id": os.Args[2]})
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	messages, _ := result["messages"].([]interface{})
	for _, m := range messages {
		entry := m.(map[string]interface{})
		fmt.Printf("%s: %s\n", entry["author"], entry["content"])
	}
	return nil
}

func groupsCommand() error {
	response, err := callControl("get_groups", nil)
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	groups, _ := result["groups"].([]interface{})
	for _, g := range groups {
		fmt.Println(g)
	}
	return nil
}

func friendsCommand() error {
	response, err := callControl("get_friends", nil)
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	friends, _ := result["friends"].([]interface{})
	for _, f := range friends {
		entry := f.(map[string]interface{})
		fmt.Printf("%s (%s)\n", entry["nickname"], entry["actor"])
	}
	return nil
}

func membersCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: beenode members <chat_id>")
	}
	response, err := callControl("get_members", map[string]interface{}{"chat_id": os.Args[2]})
	if err != nil {
		return err
	}
	result := response.Result.(map[string]interface{})
	members, _ := result["members"].([]interface{})
	for _, m := range members {
		fmt.Println(m)
	}
	return nil
}
