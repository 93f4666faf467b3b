// Package memstore is a mutex-guarded in-memory implementation of the store
// contract. It backs the test suite and DSN-less development runs; every
// method returns copies so callers never alias internal state.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

func New() store.Stores {
	return store.Stores{
		Users:         &userStore{users: make(map[string]model.User)},
		Conversations: &conversationStore{convs: make(map[string]model.Conversation)},
		Messages:      &messageStore{msgs: make(map[string]model.Message)},
		Calls:         &callStore{calls: make(map[string]model.Call)},
	}
}

// --- users ---

type userStore struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func (s *userStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *userStore) Get(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *userStore) List(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

// --- conversations ---

type conversationStore struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
}

func (s *conversationStore) Create(_ context.Context, participants []string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := model.Conversation{
		ID:           uuid.NewString(),
		Participants: append([]string(nil), participants...),
		CreatedAt:    time.Now(),
	}
	s.convs[conv.ID] = conv
	out := cloneConversation(conv)
	return &out, nil
}

func (s *conversationStore) Get(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneConversation(conv)
	return &out, nil
}

func (s *conversationStore) ListByParticipant(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.convs {
		if conv.HasParticipant(userID) {
			convs = append(convs, cloneConversation(conv))
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs, nil
}

func (s *conversationStore) FindByParticipants(_ context.Context, participants []string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := participantKey(participants)
	for _, conv := range s.convs {
		if participantKey(conv.Participants) == want {
			out := cloneConversation(conv)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func participantKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	key := ""
	for _, id := range sorted {
		key += id + "\x00"
	}
	return key
}

func cloneConversation(c model.Conversation) model.Conversation {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

// --- messages ---

type messageStore struct {
	mu   sync.RWMutex
	msgs map[string]model.Message
}

func (s *messageStore) Create(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	s.msgs[msg.ID] = cloneMessage(*msg)
	return nil
}

func (s *messageStore) ListByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []model.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			msgs = append(msgs, cloneMessage(m))
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *messageStore) MarkAllRead(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modified := 0
	for id, m := range s.msgs {
		if m.ConversationID != conversationID || m.Read || m.SenderID == readerID {
			continue
		}
		m.Read = true
		if !m.ReadByUser(readerID) {
			m.ReadBy = append(append([]string(nil), m.ReadBy...), readerID)
		}
		s.msgs[id] = m
		modified++
	}
	return modified, nil
}

func (s *messageStore) MarkRead(_ context.Context, messageID, conversationID, readerID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[messageID]
	if !ok || m.ConversationID != conversationID {
		return nil, store.ErrNotFound
	}
	if !m.ReadByUser(readerID) {
		m.ReadBy = append(append([]string(nil), m.ReadBy...), readerID)
	}
	if !m.Read && m.SenderID != readerID {
		m.Read = true
	}
	s.msgs[messageID] = m
	out := cloneMessage(m)
	return &out, nil
}

func (s *messageStore) LastInConversation(_ context.Context, conversationID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *model.Message
	for _, m := range s.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			clone := cloneMessage(m)
			last = &clone
		}
	}
	return last, nil
}

func (s *messageStore) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && !m.Read && m.SenderID != userID {
			count++
		}
	}
	return count, nil
}

func cloneMessage(m model.Message) model.Message {
	m.ReadBy = append([]string(nil), m.ReadBy...)
	return m
}

// --- calls ---

type callStore struct {
	mu    sync.RWMutex
	calls map[string]model.Call
}

func (s *callStore) Create(_ context.Context, call *model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	s.calls[call.ID] = *call
	return nil
}

func (s *callStore) Get(_ context.Context, id string) (*model.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *callStore) ListByUser(_ context.Context, userID string) ([]model.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var calls []model.Call
	for _, c := range s.calls {
		if c.CallerID == userID || c.ReceiverID == userID {
			calls = append(calls, c)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].CreatedAt.After(calls[j].CreatedAt) })
	return calls, nil
}

func (s *callStore) Transition(_ context.Context, id string, from []model.CallStatus, change model.CallChange) (*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if c.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, store.ErrNotFound
	}

	c.Status = change.Status
	if change.StartedAt != nil {
		c.StartedAt = change.StartedAt
	}
	if change.EndedAt != nil {
		c.EndedAt = change.EndedAt
	}
	if change.ComputeDuration && c.StartedAt != nil && c.EndedAt != nil {
		secs := int(c.EndedAt.Sub(*c.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		c.Duration = &secs
	}
	s.calls[id] = c
	return &c, nil
}
