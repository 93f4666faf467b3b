package httpapi_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busihe/chat-for-telemed/internal/chat"
	"github.com/busihe/chat-for-telemed/internal/httpapi"
	"github.com/busihe/chat-for-telemed/internal/server/middleware"
	"github.com/busihe/chat-for-telemed/internal/store/memstore"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

const testSecret = "test-secret"

func testLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type api struct {
	mux *http.ServeMux
}

func newAPI(t *testing.T) *api {
	t.Helper()
	stores := memstore.New()
	logger := testLogger()

	messages := chat.NewMessageService(stores.Conversations, stores.Messages, nil, logger)
	calls := chat.NewCallService(stores.Conversations, stores.Calls, nil, logger)
	conversations := chat.NewConversationService(stores.Conversations, stores.Messages, logger)

	mux := http.NewServeMux()
	handler := httpapi.New(logger, messages, calls, conversations, stores.Users)
	handler.Register(mux, func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(logger, testSecret),
		)
	})
	return &api{mux: mux}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AppClaims{
		Name: userID,
		Role: "doctor",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// do issues a request as userID and decodes the JSON response into out.
func (a *api) do(t *testing.T, userID, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
	}
	return rec.Code
}

func (a *api) conversation(t *testing.T, creator string, others ...string) string {
	t.Helper()
	var conv model.Conversation
	code := a.do(t, creator, http.MethodPost, "/api/conversations", map[string]any{"participantIds": others}, &conv)
	require.Equal(t, http.StatusCreated, code)
	return conv.ID
}

func TestRoutesRequireAuth(t *testing.T) {
	a := newAPI(t)
	for _, path := range []string{"/api/conversations", "/api/calls", "/api/users"} {
		code := a.do(t, "", http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}
}

func TestConversationEndpoints(t *testing.T) {
	a := newAPI(t)

	var conv model.Conversation
	code := a.do(t, "doctor-1", http.MethodPost, "/api/conversations", map[string]any{"participantIds": []string{"patient-1"}}, &conv)
	require.Equal(t, http.StatusCreated, code)
	assert.ElementsMatch(t, []string{"doctor-1", "patient-1"}, conv.Participants)

	// Recreating the same pair returns the existing conversation with 200.
	var again model.Conversation
	code = a.do(t, "patient-1", http.MethodPost, "/api/conversations", map[string]any{"participantIds": []string{"doctor-1"}}, &again)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, conv.ID, again.ID)

	var summaries []chat.ConversationSummary
	code = a.do(t, "doctor-1", http.MethodGet, "/api/conversations", nil, &summaries)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, summaries, 1)
	assert.Nil(t, summaries[0].LastMessage)

	// A solo conversation is a bad request.
	var errBody map[string]string
	code = a.do(t, "doctor-1", http.MethodPost, "/api/conversations", map[string]any{"participantIds": []string{}}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, errBody["message"])
}

func TestMessageEndpoints(t *testing.T) {
	a := newAPI(t)
	convID := a.conversation(t, "doctor-1", "patient-1")

	var msg model.Message
	code := a.do(t, "doctor-1", http.MethodPost, "/api/messages", map[string]string{"conversationId": convID, "text": "hello"}, &msg)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "doctor-1", msg.SenderID)

	// Outsiders cannot read the thread.
	code = a.do(t, "stranger", http.MethodGet, "/api/messages/"+convID, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var msgs []model.Message
	code = a.do(t, "patient-1", http.MethodGet, "/api/messages/"+convID, nil, &msgs)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, msgs, 1)

	var marked map[string]int
	code = a.do(t, "patient-1", http.MethodPost, "/api/messages/read/"+convID, nil, &marked)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, marked["modifiedCount"])

	var read model.Message
	code = a.do(t, "patient-1", http.MethodPost, "/api/messages/read-one/"+convID+"/"+msg.ID, nil, &read)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, read.Read)
	assert.Contains(t, read.ReadBy, "patient-1")

	code = a.do(t, "doctor-1", http.MethodPost, "/api/messages", map[string]string{"conversationId": convID, "text": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCallEndpoints(t *testing.T) {
	a := newAPI(t)
	convID := a.conversation(t, "doctor-1", "patient-1")

	var call model.Call
	code := a.do(t, "doctor-1", http.MethodPost, "/api/calls", map[string]string{
		"conversationId": convID, "receiverId": "patient-1", "callType": "video",
	}, &call)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.CallInitiated, call.Status)

	var answered model.Call
	code = a.do(t, "patient-1", http.MethodPatch, "/api/calls/"+call.ID+"/status", map[string]string{"status": "answered"}, &answered)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CallAnswered, answered.Status)
	assert.NotNil(t, answered.StartedAt)

	var ended model.Call
	code = a.do(t, "doctor-1", http.MethodPatch, "/api/calls/"+call.ID+"/status", map[string]string{"status": "ended"}, &ended)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, ended.Duration)

	// Terminal calls refuse further updates.
	code = a.do(t, "doctor-1", http.MethodPatch, "/api/calls/"+call.ID+"/status", map[string]string{"status": "rejected"}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var history []model.Call
	code = a.do(t, "doctor-1", http.MethodGet, "/api/calls", nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 1)

	var got model.Call
	code = a.do(t, "patient-1", http.MethodGet, "/api/calls/"+call.ID, nil, &got)
	assert.Equal(t, http.StatusOK, code)

	code = a.do(t, "stranger", http.MethodGet, "/api/calls/"+call.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCallValidation(t *testing.T) {
	a := newAPI(t)
	convID := a.conversation(t, "doctor-1", "patient-1")

	code := a.do(t, "doctor-1", http.MethodPost, "/api/calls", map[string]string{
		"conversationId": convID, "receiverId": "patient-1", "callType": "carrier-pigeon",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = a.do(t, "stranger", http.MethodPost, "/api/calls", map[string]string{
		"conversationId": convID, "receiverId": "patient-1", "callType": "audio",
	}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code = a.do(t, "doctor-1", http.MethodGet, "/api/calls/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
