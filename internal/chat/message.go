package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/busihe/chat-for-telemed/internal/hub"
	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

// MessageService persists messages and fans them out to the conversation
// room. It is the single delivery path for both REST- and socket-originated
// sends.
type MessageService struct {
	convs  store.ConversationStore
	msgs   store.MessageStore
	fabric Broadcaster
	logger *slog.Logger
}

func NewMessageService(convs store.ConversationStore, msgs store.MessageStore, fabric Broadcaster, logger *slog.Logger) *MessageService {
	if fabric == nil {
		fabric = nopBroadcaster{}
	}
	return &MessageService{
		convs:  convs,
		msgs:   msgs,
		fabric: fabric,
		logger: logger.With(slog.String("component", "message_service")),
	}
}

// ReceiveMessagePayload is the receiveMessage event body.
type ReceiveMessagePayload struct {
	ConversationID string         `json:"conversationId"`
	Message        *model.Message `json:"message"`
}

// Send validates, persists and broadcasts one message. The whole room
// receives the event, sender's connections included: multiple devices of
// the sender stay consistent through the echo.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidArg("text is required")
	}
	if conversationID == "" {
		return nil, apperr.InvalidArg("conversationId is required")
	}

	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load conversation", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, apperr.Forbidden("sender is not a participant of this conversation")
	}

	msg := &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ReadBy:         []string{},
	}
	if err := s.msgs.Create(ctx, msg); err != nil {
		s.logger.Error("failed to persist message", slog.String("conversationId", conversationID), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to save message", err)
	}

	s.fabric.Emit(conversationID, hub.EventReceiveMessage, ReceiveMessagePayload{
		ConversationID: conversationID,
		Message:        msg,
	}, uuid.Nil)
	return msg, nil
}

// List returns a conversation's messages, oldest first.
func (s *MessageService) List(ctx context.Context, conversationID, userID string) ([]model.Message, error) {
	if _, err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to list messages", err)
	}
	return msgs, nil
}

// MarkAllRead marks every unread message not sent by userID as read and
// records the receipt. Returns the number of messages modified.
func (s *MessageService) MarkAllRead(ctx context.Context, conversationID, userID string) (int, error) {
	if _, err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	modified, err := s.msgs.MarkAllRead(ctx, conversationID, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "failed to mark messages read", err)
	}
	return modified, nil
}

// MarkOneRead records userID's receipt on a single message.
func (s *MessageService) MarkOneRead(ctx context.Context, conversationID, messageID, userID string) (*model.Message, error) {
	if _, err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.msgs.MarkRead(ctx, messageID, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to mark message read", err)
	}
	return msg, nil
}

func (s *MessageService) requireParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, apperr.InvalidArg("conversationId is required")
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}
