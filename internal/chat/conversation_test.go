package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busihe/chat-for-telemed/internal/store/memstore"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
)

func TestCreateConversationDeduplicates(t *testing.T) {
	stores := memstore.New()
	svc := NewConversationService(stores.Conversations, stores.Messages, testLogger())
	ctx := context.Background()

	conv, created, err := svc.Create(ctx, "doctor-1", []string{"patient-1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.ElementsMatch(t, []string{"doctor-1", "patient-1"}, conv.Participants)

	// Same pair, other direction, with a duplicate id thrown in.
	again, created, err := svc.Create(ctx, "patient-1", []string{"doctor-1", "doctor-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	// A different set is a new conversation.
	other, created, err := svc.Create(ctx, "doctor-1", []string{"patient-2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestCreateConversationNeedsTwoParticipants(t *testing.T) {
	stores := memstore.New()
	svc := NewConversationService(stores.Conversations, stores.Messages, testLogger())

	_, _, err := svc.Create(context.Background(), "doctor-1", nil)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	// Listing yourself twice still leaves one participant.
	_, _, err = svc.Create(context.Background(), "doctor-1", []string{"doctor-1", ""})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestListConversationSummaries(t *testing.T) {
	stores := memstore.New()
	convSvc := NewConversationService(stores.Conversations, stores.Messages, testLogger())
	msgSvc := NewMessageService(stores.Conversations, stores.Messages, nil, testLogger())
	ctx := context.Background()

	conv, _, err := convSvc.Create(ctx, "doctor-1", []string{"patient-1"})
	require.NoError(t, err)
	empty, _, err := convSvc.Create(ctx, "doctor-1", []string{"patient-2"})
	require.NoError(t, err)

	_, err = msgSvc.Send(ctx, conv.ID, "patient-1", "first")
	require.NoError(t, err)
	last, err := msgSvc.Send(ctx, conv.ID, "patient-1", "second")
	require.NoError(t, err)

	summaries, err := convSvc.List(ctx, "doctor-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := map[string]ConversationSummary{}
	for _, s := range summaries {
		byID[s.Conversation.ID] = s
	}

	withMsgs := byID[conv.ID]
	require.NotNil(t, withMsgs.LastMessage)
	assert.Equal(t, last.ID, withMsgs.LastMessage.ID)
	assert.Equal(t, 2, withMsgs.UnreadCount)

	// An empty conversation has no last message and nothing unread.
	assert.Nil(t, byID[empty.ID].LastMessage)
	assert.Equal(t, 0, byID[empty.ID].UnreadCount)

	// The sender's own messages never count as unread for them.
	patientView, err := convSvc.List(ctx, "patient-1")
	require.NoError(t, err)
	for _, s := range patientView {
		assert.Equal(t, 0, s.UnreadCount)
	}
}

func TestGetConversationAuthorization(t *testing.T) {
	stores := memstore.New()
	svc := NewConversationService(stores.Conversations, stores.Messages, testLogger())
	ctx := context.Background()

	conv, _, err := svc.Create(ctx, "doctor-1", []string{"patient-1"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, conv.ID, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = svc.Get(ctx, conv.ID, "stranger")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	_, err = svc.Get(ctx, "no-such-conversation", "doctor-1")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
