// Package store defines the persistence contract the chat services are
// written against. Two implementations exist: bunstore (PostgreSQL via bun)
// and memstore (in-memory, used in tests and for DSN-less development runs).
package store

import (
	"context"
	"errors"

	"github.com/busihe/chat-for-telemed/pkg/model"
)

// ErrNotFound covers both a missing row and a call transition refused
// because the current status does not permit it; callers treat the two the
// same way (the call is not available for that operation).
var ErrNotFound = errors.New("not found")

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

type ConversationStore interface {
	// Create mints the conversation id.
	Create(ctx context.Context, participants []string) (*model.Conversation, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error)
	// FindByParticipants matches the exact participant set, order-insensitive.
	FindByParticipants(ctx context.Context, participants []string) (*model.Conversation, error)
}

type MessageStore interface {
	// Create mints the message id and creation timestamp.
	Create(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	// MarkAllRead flips the legacy read flag and appends readerID to the
	// receipt set of every unread message not sent by readerID. Returns the
	// number of messages modified.
	MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error)
	// MarkRead appends readerID to one message's receipt set and flips the
	// legacy read flag when the reader is not the sender.
	MarkRead(ctx context.Context, messageID, conversationID, readerID string) (*model.Message, error)
	// LastInConversation returns nil, nil when the conversation is empty.
	LastInConversation(ctx context.Context, conversationID string) (*model.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

type CallStore interface {
	// Create mints the call id and creation timestamp.
	Create(ctx context.Context, call *model.Call) error
	Get(ctx context.Context, id string) (*model.Call, error)
	// ListByUser returns calls where the user is caller or receiver,
	// newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Call, error)
	// Transition applies change only if the call's current status is one of
	// from — a conditional update, so two racing transitions cannot both
	// apply and a terminal state is never overwritten. Returns ErrNotFound
	// when the call is absent or its status disallows the transition.
	Transition(ctx context.Context, id string, from []model.CallStatus, change model.CallChange) (*model.Call, error)
}

// Stores bundles the four repositories for wiring.
type Stores struct {
	Users         UserStore
	Conversations ConversationStore
	Messages      MessageStore
	Calls         CallStore
}
