package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/pkg/presence"
)

// Outbound event names. Inbound names live in the router's dispatch table.
const (
	EventOnlineUsers    = "onlineUsers"
	EventReceiveMessage = "receiveMessage"
	EventTyping         = "typing"
	EventCallIncoming   = "call:incoming"
	EventCallAnswered   = "call:answered"
	EventCallRejected   = "call:rejected"
	EventCallEnded      = "call:ended"
	EventCallError      = "call:error"
	EventError          = "error"
)

// Envelope is the wire frame for every server-to-client event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Fabric fans events out to room members. Delivery is fire-and-forget per
// recipient: the transport's Send never blocks and a dead connection simply
// drops the frame, so one bad recipient cannot fail the rest.
type Fabric struct {
	registry *presence.Registry
	logger   *slog.Logger

	// emitMu serializes the enqueue phase so two concurrent Emits to the
	// same room reach every member's send queue in the same order. Only
	// channel enqueues happen under it, never socket I/O.
	emitMu sync.Mutex
}

func NewFabric(registry *presence.Registry, logger *slog.Logger) *Fabric {
	return &Fabric{
		registry: registry,
		logger:   logger.With(slog.String("component", "broadcast_fabric")),
	}
}

// Emit delivers an event to every connection currently in the room, except
// the excluded one (uuid.Nil excludes nobody). Emitting to an empty or
// unknown room is a no-op.
func (f *Fabric) Emit(roomID, event string, payload any, exclude uuid.UUID) {
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	// Snapshot first, then enqueue. The registry lock is released before
	// any recipient is touched.
	members := f.registry.RoomMembers(roomID)

	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	for _, t := range members {
		if exclude != uuid.Nil && t.ID() == exclude {
			continue
		}
		t.Send(frame)
	}
	f.logger.Debug("event emitted", slog.String("roomID", roomID), slog.String("event", event), slog.Int("recipients", len(members)))
}

// EmitAll delivers an event to every registered connection. Used for the
// process-wide onlineUsers presence list.
func (f *Fabric) EmitAll(event string, payload any) {
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	all := f.registry.AllTransports()

	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	for _, t := range all {
		t.Send(frame)
	}
}

// EmitTo sends an event to a single connection, typically an error frame
// back to the originator of a failed request.
func (f *Fabric) EmitTo(t presence.Transport, event string, payload any) {
	frame, ok := f.encode(event, payload)
	if !ok {
		return
	}
	t.Send(frame)
}

func (f *Fabric) encode(event string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("failed to marshal event payload", slog.String("event", event), slog.Any("error", err))
		return nil, false
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		f.logger.Error("failed to marshal event envelope", slog.String("event", event), slog.Any("error", err))
		return nil, false
	}
	return frame, true
}
