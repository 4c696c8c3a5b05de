// Package control implements the local control API a client uses to drive
// a running node: creating groups, managing membership and friends, and
// sending/reading messages.
package control

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/node"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// Request represents a control API request
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response represents a control API response
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server implements the control API server
type Server struct {
	mu   sync.RWMutex
	node *node.Node
}

// NewServer creates a new control API server
func NewServer(n *node.Node) *Server {
	return &Server{
		node: n,
	}
}

// Serve starts the control API server on the given listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue // Continue accepting connections
				}
			}

			// Handle connection in goroutine
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var request Request
			if err := decoder.Decode(&request); err != nil {
				// Connection closed or invalid JSON
				return
			}

			response := s.handleRequest(ctx, request)

			if err := encoder.Encode(response); err != nil {
				// Failed to send response
				return
			}
		}
	}
}

// handleRequest processes a single API request
func (s *Server) handleRequest(ctx context.Context, request Request) Response {
	switch request.Method {
	case "GetInfo":
		return s.handleGetInfo(request)
	case "create_group":
		return s.handleCreateGroup(ctx, request)
	case "add_member":
		return s.handleAddMember(ctx, request)
	case "add_friend":
		return s.handleAddFriend(ctx, request)
	case "remove_friend":
		return s.handleRemoveFriend(request)
	case "send_message":
		return s.handleSendMessage(ctx, request)
	case "get_messages":
		return s.handleGetMessages(request)
	case "get_groups":
		return s.handleGetGroups(request)
	case "get_friends":
		return s.handleGetFriends(request)
	case "get_members":
		return s.handleGetMembers(request)
	default:
		return Response{
			ID:    request.ID,
			Error: fmt.Sprintf("unknown method: %s", request.Method),
		}
	}
}

// handleGetInfo reports this node's own identity.
func (s *Server) handleGetInfo(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	self := s.node.Identity()
	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"actor": self.ActorId().String(),
		},
	}
}

// handleCreateGroup handles the create_group operation
func (s *Server) handleCreateGroup(ctx context.Context, request Request) Response {
	chatID, err := s.node.CreateGroup(ctx)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to create group: %v", err)}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"chat_id": chatID.String(),
		},
	}
}

// handleAddMember handles the add_member operation
func (s *Server) handleAddMember(ctx context.Context, request Request) Response {
	chatID, err := parseChatIDParam(request.Params)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}

	actorStr, ok := request.Params["actor"].(string)
	if !ok || actorStr == "" {
		return Response{ID: request.ID, Error: "actor parameter is required"}
	}
	actor, err := identity.ParseActorId(actorStr)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid actor: %v", err)}
	}

	levelStr, _ := request.Params["level"].(string)
	level, err := parseAccessLevel(levelStr)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}

	if err := s.node.AddMember(ctx, chatID, actor, level); err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to add member: %v", err)}
	}

	return Response{ID: request.ID, Result: map[string]interface{}{"success": true}}
}

// handleAddFriend handles the add_friend operation
func (s *Server) handleAddFriend(ctx context.Context, request Request) Response {
	actorStr, ok := request.Params["actor"].(string)
	if !ok || actorStr == "" {
		return Response{ID: request.ID, Error: "actor parameter is required"}
	}
	actor, err := identity.ParseActorId(actorStr)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid actor: %v", err)}
	}

	keyStr, ok := request.Params["key_agreement_key"].(string)
	if !ok || keyStr == "" {
		return Response{ID: request.ID, Error: "key_agreement_key parameter is required"}
	}
	key, err := parseKeyHex(keyStr)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid key_agreement_key: %v", err)}
	}

	nickname, _ := request.Params["nickname"].(string)

	member := node.Member{Actor: actor, KeyAgreementPublicKey: key}
	if err := s.node.AddFriend(ctx, member, nickname); err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to add friend: %v", err)}
	}

	return Response{ID: request.ID, Result: map[string]interface{}{"success": true}}
}

// handleRemoveFriend handles the remove_friend operation
func (s *Server) handleRemoveFriend(request Request) Response {
	actorStr, ok := request.Params["actor"].(string)
	if !ok || actorStr == "" {
		return Response{ID: request.ID, Error: "actor parameter is required"}
	}
	actor, err := identity.ParseActorId(actorStr)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("invalid actor: %v", err)}
	}

	s.node.RemoveFriend(actor)
	return Response{ID: request.ID, Result: map[string]interface{}{"success": true}}
}

// handleSendMessage handles the send_message operation
func (s *Server) handleSendMessage(ctx context.Context, request Request) Response {
	chatID, err := parseChatIDParam(request.Params)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}

	content, ok := request.Params["content"].(string)
	if !ok {
		return Response{ID: request.ID, Error: "content parameter is required and must be a string"}
	}

	opID, err := s.node.SendMessage(ctx, chatID, []byte(content))
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to send message: %v", err)}
	}

	return Response{
		ID: request.ID,
		Result: map[string]interface{}{
			"operation_id": opID.String(),
		},
	}
}

// handleGetMessages handles the get_messages operation
func (s *Server) handleGetMessages(request Request) Response {
	chatID, err := parseChatIDParam(request.Params)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}

	msgs, err := s.node.GetMessages(chatID)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to get messages: %v", err)}
	}

	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]interface{}{
			"operation_id": m.OperationID.String(),
			"author":       m.Author.String(),
			"content":      string(m.Content),
		}
	}

	return Response{ID: request.ID, Result: map[string]interface{}{"messages": out}}
}

// handleGetGroups handles the get_groups operation
func (s *Server) handleGetGroups(request Request) Response {
	groups := s.node.GetGroups()
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.String()
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"groups": out}}
}

// handleGetFriends handles the get_friends operation
func (s *Server) handleGetFriends(request Request) Response {
	friends := s.node.GetFriends()
	out := make([]map[string]interface{}, len(friends))
	for i, f := range friends {
		out[i] = map[string]interface{}{
			"actor":    f.Actor.String(),
			"nickname": f.Nickname,
		}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"friends": out}}
}

// handleGetMembers handles the get_members operation
func (s *Server) handleGetMembers(request Request) Response {
	chatID, err := parseChatIDParam(request.Params)
	if err != nil {
		return Response{ID: request.ID, Error: err.Error()}
	}

	members, err := s.node.GetMembers(chatID)
	if err != nil {
		return Response{ID: request.ID, Error: fmt.Sprintf("failed to get members: %v", err)}
	}

	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.String()
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"members": out}}
}

func parseChatIDParam(params map[string]interface{}) (wire.ChatId, error) {
	if params == nil {
		return wire.ChatId{}, fmt.Errorf("chat_id parameter is required")
	}
	s, ok := params["chat_id"].(string)
	if !ok || s == "" {
		return wire.ChatId{}, fmt.Errorf("chat_id parameter is required")
	}
	chatID, err := wire.ParseChatId(s)
	if err != nil {
		return wire.ChatId{}, fmt.Errorf("invalid chat_id: %w", err)
	}
	return chatID, nil
}

func parseAccessLevel(s string) (wire.AccessLevel, error) {
	switch s {
	case "", "write":
		return wire.AccessWrite, nil
	case "pull":
		return wire.AccessPull, nil
	case "read":
		return wire.AccessRead, nil
	case "manage":
		return wire.AccessManage, nil
	default:
		return 0, fmt.Errorf("unknown access level: %s", s)
	}
}

func parseKeyHex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
