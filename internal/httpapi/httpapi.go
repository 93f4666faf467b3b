// Package httpapi exposes the REST surface: message, conversation, call and
// user endpoints. Handlers translate HTTP to service calls and map error
// codes to statuses; all business rules live in internal/chat.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/busihe/chat-for-telemed/internal/chat"
	"github.com/busihe/chat-for-telemed/internal/server/middleware"
	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
	"github.com/busihe/chat-for-telemed/pkg/presence"
)

type Handler struct {
	logger        *slog.Logger
	messages      *chat.MessageService
	calls         *chat.CallService
	conversations *chat.ConversationService
	users         store.UserStore
}

func New(logger *slog.Logger, messages *chat.MessageService, calls *chat.CallService, conversations *chat.ConversationService, users store.UserStore) *Handler {
	return &Handler{
		logger:        logger.With(slog.String("component", "httpapi")),
		messages:      messages,
		calls:         calls,
		conversations: conversations,
		users:         users,
	}
}

// Register mounts every route on mux, each wrapped with wrap (the server's
// metadata/logging/auth chain).
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /api/messages":                                     h.sendMessage,
		"GET /api/messages/{conversationId}":                     h.listMessages,
		"POST /api/messages/read/{conversationId}":               h.markRead,
		"POST /api/messages/read-one/{conversationId}":           h.markReadOne,
		"POST /api/messages/read-one/{conversationId}/{messageId}": h.markReadOne,
		"GET /api/conversations":                                 h.listConversations,
		"POST /api/conversations":                                h.createConversation,
		"GET /api/users":                                         h.listUsers,
		"POST /api/calls":                                        h.createCall,
		"GET /api/calls":                                         h.listMyCalls,
		"GET /api/calls/{id}":                                    h.getCall,
		"PATCH /api/calls/{id}/status":                           h.updateCallStatus,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}
}

func (h *Handler) identity(r *http.Request) (presence.Identity, bool) {
	meta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || meta.Identity.UserID == "" {
		return presence.Identity{}, false
	}
	return meta.Identity, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError maps the service error taxonomy onto HTTP statuses with the
// `{"message": ...}` body shape every endpoint uses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	h.writeJSON(w, status, map[string]string{"message": apperr.MessageOf(err)})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed request body"})
		return false
	}
	return true
}
