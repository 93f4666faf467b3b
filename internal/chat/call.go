package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/busihe/chat-for-telemed/internal/hub"
	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/pkg/apperr"
	"github.com/busihe/chat-for-telemed/pkg/model"
)

// CallService owns the call lifecycle:
//
//	initiated -> answered -> ended
//	initiated -> rejected | missed
//
// ended, rejected and missed are terminal. Transitions are applied through
// the store's conditional update, so an illegal transition is refused
// rather than overwriting state, even under concurrent requests.
type CallService struct {
	convs  store.ConversationStore
	calls  store.CallStore
	fabric Broadcaster
	logger *slog.Logger

	now func() time.Time
}

func NewCallService(convs store.ConversationStore, calls store.CallStore, fabric Broadcaster, logger *slog.Logger) *CallService {
	if fabric == nil {
		fabric = nopBroadcaster{}
	}
	return &CallService{
		convs:  convs,
		calls:  calls,
		fabric: fabric,
		logger: logger.With(slog.String("component", "call_service")),
		now:    time.Now,
	}
}

// CallEventPayload is the body of every call:* room event. Signal carries
// the opaque WebRTC blob; the relay never interprets it.
type CallEventPayload struct {
	Call   *model.Call     `json:"call"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

type InitiateParams struct {
	ConversationID string
	CallerID       string
	ReceiverID     string
	CallType       model.CallType
	Signal         json.RawMessage
}

// Initiate validates the parties against the conversation, persists the
// call as initiated and rings the room. The caller's own connection is
// excluded from the call:incoming fanout.
func (s *CallService) Initiate(ctx context.Context, p InitiateParams, origin uuid.UUID) (*model.Call, error) {
	if p.ConversationID == "" || p.ReceiverID == "" {
		return nil, apperr.InvalidArg("conversationId and receiverId are required")
	}
	if !p.CallType.Valid() {
		return nil, apperr.InvalidArg("callType must be audio or video")
	}

	conv, err := s.convs.Get(ctx, p.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load conversation", err)
	}
	if !conv.HasParticipant(p.CallerID) || !conv.HasParticipant(p.ReceiverID) {
		return nil, apperr.Forbidden("caller and receiver must be participants of the conversation")
	}

	call := &model.Call{
		ConversationID: p.ConversationID,
		CallerID:       p.CallerID,
		ReceiverID:     p.ReceiverID,
		CallType:       p.CallType,
		Status:         model.CallInitiated,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		s.logger.Error("failed to persist call", slog.String("conversationId", p.ConversationID), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to create call", err)
	}

	s.fabric.Emit(call.ConversationID, hub.EventCallIncoming, CallEventPayload{Call: call, Signal: p.Signal}, origin)
	return call, nil
}

// Answer moves an initiated call to answered and stamps startedAt. A
// missing or already-terminal call yields NotFound and emits nothing.
func (s *CallService) Answer(ctx context.Context, callID, actorID string, signal json.RawMessage) (*model.Call, error) {
	if _, err := s.requireParty(ctx, callID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	call, err := s.transition(ctx, callID, []model.CallStatus{model.CallInitiated}, model.CallChange{
		Status:    model.CallAnswered,
		StartedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	s.fabric.Emit(call.ConversationID, hub.EventCallAnswered, CallEventPayload{Call: call, Signal: signal}, uuid.Nil)
	return call, nil
}

// Reject declines a ringing call.
func (s *CallService) Reject(ctx context.Context, callID, actorID string) (*model.Call, error) {
	if _, err := s.requireParty(ctx, callID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	call, err := s.transition(ctx, callID, []model.CallStatus{model.CallInitiated}, model.CallChange{
		Status:  model.CallRejected,
		EndedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	s.fabric.Emit(call.ConversationID, hub.EventCallRejected, CallEventPayload{Call: call}, uuid.Nil)
	return call, nil
}

// End terminates a call. Ending an answered call computes its duration;
// ending a still-ringing call (caller hung up) leaves duration unset.
func (s *CallService) End(ctx context.Context, callID, actorID string) (*model.Call, error) {
	if _, err := s.requireParty(ctx, callID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	call, err := s.transition(ctx, callID, []model.CallStatus{model.CallInitiated, model.CallAnswered}, model.CallChange{
		Status:          model.CallEnded,
		EndedAt:         &now,
		ComputeDuration: true,
	})
	if err != nil {
		return nil, err
	}
	s.fabric.Emit(call.ConversationID, hub.EventCallEnded, CallEventPayload{Call: call}, uuid.Nil)
	return call, nil
}

// Miss records a ring timeout. The core never schedules this itself; it is
// driven by the REST status endpoint. No room event is emitted.
func (s *CallService) Miss(ctx context.Context, callID, actorID string) (*model.Call, error) {
	if _, err := s.requireParty(ctx, callID, actorID); err != nil {
		return nil, err
	}
	now := s.now()
	return s.transition(ctx, callID, []model.CallStatus{model.CallInitiated}, model.CallChange{
		Status:  model.CallMissed,
		EndedAt: &now,
	})
}

// UpdateStatus maps the REST PATCH body onto a lifecycle transition.
func (s *CallService) UpdateStatus(ctx context.Context, callID, actorID string, status model.CallStatus) (*model.Call, error) {
	switch status {
	case model.CallAnswered:
		return s.Answer(ctx, callID, actorID, nil)
	case model.CallRejected:
		return s.Reject(ctx, callID, actorID)
	case model.CallEnded:
		return s.End(ctx, callID, actorID)
	case model.CallMissed:
		return s.Miss(ctx, callID, actorID)
	default:
		return nil, apperr.InvalidArg("status must be one of answered, rejected, ended, missed")
	}
}

// ListMine returns the user's call history, newest first.
func (s *CallService) ListMine(ctx context.Context, userID string) ([]model.Call, error) {
	calls, err := s.calls.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to list calls", err)
	}
	return calls, nil
}

// Get fetches one call, visible only to its caller, its receiver, or a
// participant of its conversation.
func (s *CallService) Get(ctx context.Context, callID, actorID string) (*model.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID == actorID || call.ReceiverID == actorID {
		return call, nil
	}
	conv, err := s.convs.Get(ctx, call.ConversationID)
	if err == nil && conv.HasParticipant(actorID) {
		return call, nil
	}
	return nil, apperr.Forbidden("not a party to this call")
}

func (s *CallService) requireParty(ctx context.Context, callID, actorID string) (*model.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID != actorID && call.ReceiverID != actorID {
		return nil, apperr.Forbidden("not a party to this call")
	}
	return call, nil
}

func (s *CallService) getCall(ctx context.Context, callID string) (*model.Call, error) {
	if callID == "" {
		return nil, apperr.InvalidArg("callId is required")
	}
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("call not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load call", err)
	}
	return call, nil
}

func (s *CallService) transition(ctx context.Context, callID string, from []model.CallStatus, change model.CallChange) (*model.Call, error) {
	call, err := s.calls.Transition(ctx, callID, from, change)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Absent, or its current status forbids this transition.
			return nil, apperr.NotFound("call not found or already completed")
		}
		s.logger.Error("call transition failed", slog.String("callId", callID), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to update call", err)
	}
	return call, nil
}
