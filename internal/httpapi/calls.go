package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/internal/chat"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

type createCallRequest struct {
	ConversationID string         `json:"conversationId"`
	ReceiverID     string         `json:"receiverId"`
	CallType       model.CallType `json:"callType"`
}

func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req createCallRequest
	if !h.decode(w, r, &req) {
		return
	}
	// REST-originated calls have no websocket connection to exclude from
	// the ring fanout, hence uuid.Nil.
	call, err := h.calls.Initiate(r.Context(), chat.InitiateParams{
		ConversationID: req.ConversationID,
		CallerID:       ident.UserID,
		ReceiverID:     req.ReceiverID,
		CallType:       req.CallType,
	}, uuid.Nil)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, call)
}

func (h *Handler) listMyCalls(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	calls, err := h.calls.ListMine(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, calls)
}

func (h *Handler) getCall(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	call, err := h.calls.Get(r.Context(), r.PathValue("id"), ident.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, call)
}

type updateCallStatusRequest struct {
	Status model.CallStatus `json:"status"`
}

func (h *Handler) updateCallStatus(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req updateCallStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	call, err := h.calls.UpdateStatus(r.Context(), r.PathValue("id"), ident.UserID, req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, call)
}
