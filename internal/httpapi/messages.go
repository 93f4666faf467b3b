package httpapi

import (
	"net/http"
)

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.messages.Send(r.Context(), req.ConversationID, ident.UserID, req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	msgs, err := h.messages.List(r.Context(), r.PathValue("conversationId"), ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	n, err := h.messages.MarkAllRead(r.Context(), r.PathValue("conversationId"), ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"modifiedCount": n})
}

// markReadOne serves both the per-message route and its legacy form without a
// messageId, which falls back to marking the whole conversation read.
func (h *Handler) markReadOne(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	conversationID := r.PathValue("conversationId")
	messageID := r.PathValue("messageId")
	if messageID == "" {
		n, err := h.messages.MarkAllRead(r.Context(), conversationID, ident.UserID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]int{"modifiedCount": n})
		return
	}
	msg, err := h.messages.MarkOneRead(r.Context(), conversationID, messageID, ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}
