package chat

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pkg/errors"

	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

type ConversationService struct {
	convs  store.ConversationStore
	msgs   store.MessageStore
	logger *slog.Logger
}

func NewConversationService(convs store.ConversationStore, msgs store.MessageStore, logger *slog.Logger) *ConversationService {
	return &ConversationService{
		convs:  convs,
		msgs:   msgs,
		logger: logger.With(slog.String("component", "conversation_service")),
	}
}

// ConversationSummary is one row of the conversation list: the conversation
// plus the caller's unread count and the newest message, if any.
type ConversationSummary struct {
	Conversation *model.Conversation `json:"conversation"`
	LastMessage  *model.Message      `json:"lastMessage"`
	UnreadCount  int                 `json:"unreadCount"`
}

// Create starts a conversation between creator and participantIDs. If a
// conversation with exactly that participant set already exists it is
// returned instead of duplicated; created reports which happened.
func (s *ConversationService) Create(ctx context.Context, creatorID string, participantIDs []string) (conv *model.Conversation, created bool, err error) {
	seen := map[string]struct{}{creatorID: {}}
	unique := []string{creatorID}
	for _, id := range participantIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) < 2 {
		return nil, false, apperr.InvalidArg("need at least two participants")
	}
	sort.Strings(unique)

	existing, err := s.convs.FindByParticipants(ctx, unique)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "failed to look up conversation", err)
	}

	conv, err = s.convs.Create(ctx, unique)
	if err != nil {
		s.logger.Error("failed to create conversation", slog.Any("error", err))
		return nil, false, apperr.Wrap(apperr.CodeInternal, "failed to create conversation", err)
	}
	return conv, true, nil
}

// List returns the user's conversations with last message and unread count.
func (s *ConversationService) List(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := s.convs.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to list conversations", err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for i := range convs {
		conv := convs[i]
		last, err := s.msgs.LastInConversation(ctx, conv.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to load last message", err)
		}
		unread, err := s.msgs.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to count unread messages", err)
		}
		summaries = append(summaries, ConversationSummary{
			Conversation: &conv,
			LastMessage:  last,
			UnreadCount:  unread,
		})
	}
	return summaries, nil
}

// Get loads a conversation the user participates in.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
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
