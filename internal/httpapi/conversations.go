package httpapi

import (
	"net/http"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req createConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	conv, created, err := h.conversations.Create(r.Context(), ident.UserID, req.ParticipantIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, conv)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	summaries, err := h.conversations.List(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(r); !ok {
		h.unauthorized(w)
		return
	}
	users, err := h.users.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}
