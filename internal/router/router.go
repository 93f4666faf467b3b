// Package router is the per-connection event loop's dispatch table. It
// binds inbound connection events to the presence registry, the broadcast
// fabric and the chat services, and holds no business logic of its own.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/busihe/chat-for-telemed/internal/chat"
	"github.com/busihe/chat-for-telemed/internal/hub"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
	"github.com/busihe/chat-for-telemed/pkg/model"
	"github.com/busihe/chat-for-telemed/pkg/presence"
)

// Inbound event names.
const (
	evUserOnline       = "user:online"
	evJoinConversation = "joinConversation"
	evJoinRoom         = "joinRoom"
	evLeaveConvo       = "leaveConversation"
	evTyping           = "typing"
	evSendMessage      = "sendMessage"
	evCallInitiate     = "call:initiate"
	evCallAnswer       = "call:answer"
	evCallReject       = "call:reject"
	evCallEnd          = "call:end"
	evCallICE          = "call:iceCandidate"
	evCallOffer        = "call:offer"
	evCallRemoteAnswer = "call:remoteAnswer"
)

type EventRouter struct {
	logger   *slog.Logger
	registry *presence.Registry
	fabric   *hub.Fabric
	messages *chat.MessageService
	calls    *chat.CallService
}

func NewEventRouter(logger *slog.Logger, registry *presence.Registry, fabric *hub.Fabric, messages *chat.MessageService, calls *chat.CallService) *EventRouter {
	return &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		fabric:   fabric,
		messages: messages,
		calls:    calls,
	}
}

// HandleMessage dispatches one inbound frame. It is installed as the
// transport's message handler, so events of a single connection arrive here
// in order.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(connID, hub.EventError, apperr.InvalidArg("malformed message frame"))
		return
	}

	switch clientMsg.Event {
	case evUserOnline:
		r.handleUserOnline(connID, clientMsg.Payload)
	case evJoinConversation, evJoinRoom:
		r.handleJoin(connID, clientMsg.Payload)
	case evLeaveConvo:
		r.handleLeave(connID, clientMsg.Payload)
	case evTyping:
		r.handleTyping(connID, clientMsg.Payload)
	case evSendMessage:
		r.handleSendMessage(ctx, connID, clientMsg.Payload)
	case evCallInitiate:
		r.handleCallInitiate(ctx, connID, clientMsg.Payload)
	case evCallAnswer:
		r.handleCallAnswer(ctx, connID, clientMsg.Payload)
	case evCallReject:
		r.handleCallReject(ctx, connID, clientMsg.Payload)
	case evCallEnd:
		r.handleCallEnd(ctx, connID, clientMsg.Payload)
	case evCallICE, evCallOffer, evCallRemoteAnswer:
		r.handleSignalRelay(connID, clientMsg.Event, clientMsg.Payload)
	default:
		r.logger.Warn("received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
		r.sendError(connID, hub.EventError, apperr.InvalidArg("unknown event: "+clientMsg.Event))
	}
}

// HandleDisconnect tears a connection down: room memberships and the user
// mapping go away, then everyone gets the refreshed online list.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID) {
	wasOnline := r.registry.Deregister(connID)
	if wasOnline {
		r.fabric.EmitAll(hub.EventOnlineUsers, r.registry.Online())
	}
}

func (r *EventRouter) handleUserOnline(connID uuid.UUID, payload json.RawMessage) {
	var p userOnlinePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		r.sendError(connID, hub.EventError, apperr.InvalidArg("user:online requires a userId"))
		return
	}
	// The announced id must match the token identity the connection was
	// accepted with; identities are not client-assigned.
	identity, ok := r.registry.IdentityOf(connID)
	if !ok {
		return
	}
	if identity.UserID != p.UserID {
		r.sendError(connID, hub.EventError, apperr.Forbidden("userId does not match authenticated identity"))
		return
	}
	if _, err := r.registry.SetOnline(connID); err != nil {
		r.sendError(connID, hub.EventError, apperr.Internal("connection is not registered"))
		return
	}
	r.fabric.EmitAll(hub.EventOnlineUsers, r.registry.Online())
}

func (r *EventRouter) handleJoin(connID uuid.UUID, payload json.RawMessage) {
	roomID := roomIDFromPayload(payload)
	if roomID == "" {
		r.sendError(connID, hub.EventError, apperr.InvalidArg("joinConversation requires a room id"))
		return
	}
	if err := r.registry.Join(roomID, connID); err != nil {
		r.logger.Warn("join failed", slog.String("roomID", roomID), slog.Any("error", err))
	}
}

func (r *EventRouter) handleLeave(connID uuid.UUID, payload json.RawMessage) {
	roomID := roomIDFromPayload(payload)
	if roomID == "" {
		return
	}
	r.registry.Leave(roomID, connID)
}

func (r *EventRouter) handleTyping(connID uuid.UUID, payload json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		r.sendError(connID, hub.EventError, apperr.InvalidArg("typing requires roomId"))
		return
	}
	if user, ok := r.registry.UserOf(connID); ok {
		p.UserID = user.ID
	}
	r.fabric.Emit(p.RoomID, hub.EventTyping, p, connID)
}

func (r *EventRouter) handleSendMessage(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	user, ok := r.registry.UserOf(connID)
	if !ok {
		r.sendError(connID, hub.EventError, apperr.Unauthorized("announce presence before sending messages"))
		return
	}
	var p sendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, hub.EventError, apperr.InvalidArg("malformed sendMessage payload"))
		return
	}
	conversationID := p.ConversationID
	if conversationID == "" {
		conversationID = p.RoomID
	}
	if _, err := r.messages.Send(ctx, conversationID, user.ID, p.Text); err != nil {
		r.sendError(connID, hub.EventError, err)
	}
}

func (r *EventRouter) handleCallInitiate(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	user, ok := r.registry.UserOf(connID)
	if !ok {
		r.sendError(connID, hub.EventCallError, apperr.Unauthorized("announce presence before calling"))
		return
	}
	var p callInitiatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, hub.EventCallError, apperr.InvalidArg("malformed call:initiate payload"))
		return
	}
	if p.CallerID != "" && p.CallerID != user.ID {
		r.sendError(connID, hub.EventCallError, apperr.Forbidden("callerId does not match authenticated identity"))
		return
	}
	_, err := r.calls.Initiate(ctx, chat.InitiateParams{
		ConversationID: p.ConversationID,
		CallerID:       user.ID,
		ReceiverID:     p.ReceiverID,
		CallType:       model.CallType(p.CallType),
		Signal:         p.Signal,
	}, connID)
	if err != nil {
		r.sendError(connID, hub.EventCallError, err)
	}
}

func (r *EventRouter) handleCallAnswer(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	user, p, ok := r.callActor(connID, payload)
	if !ok {
		return
	}
	if _, err := r.calls.Answer(ctx, p.CallID, user.ID, p.Signal); err != nil {
		r.sendError(connID, hub.EventCallError, err)
	}
}

func (r *EventRouter) handleCallReject(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	user, p, ok := r.callActor(connID, payload)
	if !ok {
		return
	}
	if _, err := r.calls.Reject(ctx, p.CallID, user.ID); err != nil {
		r.sendError(connID, hub.EventCallError, err)
	}
}

func (r *EventRouter) handleCallEnd(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	user, p, ok := r.callActor(connID, payload)
	if !ok {
		return
	}
	if _, err := r.calls.End(ctx, p.CallID, user.ID); err != nil {
		r.sendError(connID, hub.EventCallError, err)
	}
}

// handleSignalRelay fans WebRTC signaling blobs out to the room, excluding
// the sender. Pure relay: no persistence, no interpretation.
func (r *EventRouter) handleSignalRelay(connID uuid.UUID, event string, payload json.RawMessage) {
	roomID := roomIDFromPayload(payload)
	if roomID == "" {
		r.sendError(connID, hub.EventCallError, apperr.InvalidArg(event+" requires a conversationId"))
		return
	}
	r.fabric.Emit(roomID, event, payload, connID)
}

func (r *EventRouter) callActor(connID uuid.UUID, payload json.RawMessage) (presence.OnlineUser, callActionPayload, bool) {
	user, ok := r.registry.UserOf(connID)
	if !ok {
		r.sendError(connID, hub.EventCallError, apperr.Unauthorized("announce presence before call actions"))
		return presence.OnlineUser{}, callActionPayload{}, false
	}
	var p callActionPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.CallID == "" {
		r.sendError(connID, hub.EventCallError, apperr.InvalidArg("call action requires a callId"))
		return presence.OnlineUser{}, callActionPayload{}, false
	}
	return user, p, true
}

// sendError reports a failed request back to the originating connection
// only. It never reaches the room.
func (r *EventRouter) sendError(connID uuid.UUID, event string, err error) {
	t, ok := r.registry.TransportOf(connID)
	if !ok {
		return
	}
	r.fabric.EmitTo(t, event, errorPayload{
		Code:    string(apperr.CodeOf(err)),
		Message: apperr.MessageOf(err),
	})
}

// roomIDFromPayload accepts the two shapes clients send for room-scoped
// events: a bare JSON string, or an object carrying roomId or
// conversationId.
func roomIDFromPayload(payload json.RawMessage) string {
	parsed := gjson.ParseBytes(payload)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	if v := parsed.Get("roomId"); v.Exists() {
		return v.String()
	}
	if v := parsed.Get("conversationId"); v.Exists() {
		return v.String()
	}
	return ""
}
