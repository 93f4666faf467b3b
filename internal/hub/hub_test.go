package hub_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/internal/hub"
	"github.com/busihe/chat-for-telemed/pkg/presence"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeTransport struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport() *fakeTransport { return &fakeTransport{id: uuid.New()} }

func (f *fakeTransport) ID() uuid.UUID   { return f.id }
func (f *fakeTransport) Close(err error) {}

func (f *fakeTransport) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeTransport) frames(t *testing.T) []hub.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hub.Envelope, 0, len(f.sent))
	for _, raw := range f.sent {
		var env hub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("received frame is not a valid envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func setup(t *testing.T) (*presence.Registry, *hub.Fabric) {
	t.Helper()
	registry := presence.NewRegistry(newTestLogger())
	return registry, hub.NewFabric(registry, newTestLogger())
}

func join(t *testing.T, r *presence.Registry, roomID string, ft *fakeTransport, userID string) {
	t.Helper()
	if _, err := r.Register(ft, presence.Identity{UserID: userID}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Join(roomID, ft.ID()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
}

func TestEmitReachesRoomMembers(t *testing.T) {
	registry, fabric := setup(t)
	ft1 := newFakeTransport()
	ft2 := newFakeTransport()
	outsider := newFakeTransport()
	join(t, registry, "room-1", ft1, "user-1")
	join(t, registry, "room-1", ft2, "user-2")
	join(t, registry, "room-2", outsider, "user-3")

	fabric.Emit("room-1", "typing", map[string]bool{"isTyping": true}, uuid.Nil)

	for _, ft := range []*fakeTransport{ft1, ft2} {
		frames := ft.frames(t)
		if len(frames) != 1 {
			t.Fatalf("expected 1 frame, got %d", len(frames))
		}
		if frames[0].Event != "typing" {
			t.Errorf("expected typing event, got %q", frames[0].Event)
		}
	}
	if len(outsider.frames(t)) != 0 {
		t.Error("event leaked into another room")
	}
}

func TestEmitExcludesSender(t *testing.T) {
	registry, fabric := setup(t)
	sender := newFakeTransport()
	receiver := newFakeTransport()
	join(t, registry, "room-1", sender, "user-1")
	join(t, registry, "room-1", receiver, "user-2")

	fabric.Emit("room-1", "typing", map[string]bool{"isTyping": true}, sender.ID())

	if len(sender.frames(t)) != 0 {
		t.Error("excluded sender still received the event")
	}
	if len(receiver.frames(t)) != 1 {
		t.Errorf("expected receiver to get 1 frame, got %d", len(receiver.frames(t)))
	}
}

func TestEmitToEmptyRoomIsNoop(t *testing.T) {
	_, fabric := setup(t)
	// Must not panic or create the room.
	fabric.Emit("ghost-room", "typing", nil, uuid.Nil)
}

func TestEmitAll(t *testing.T) {
	registry, fabric := setup(t)
	ft1 := newFakeTransport()
	ft2 := newFakeTransport()
	// ft2 never joined a room; EmitAll reaches every registered connection.
	join(t, registry, "room-1", ft1, "user-1")
	if _, err := registry.Register(ft2, presence.Identity{UserID: "user-2"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	fabric.EmitAll(hub.EventOnlineUsers, []string{"user-1"})

	for _, ft := range []*fakeTransport{ft1, ft2} {
		if len(ft.frames(t)) != 1 {
			t.Errorf("expected every connection to receive the broadcast")
		}
	}
}

func TestEmitPayloadRoundTrip(t *testing.T) {
	registry, fabric := setup(t)
	ft := newFakeTransport()
	join(t, registry, "room-1", ft, "user-1")

	type payload struct {
		RoomID   string `json:"roomId"`
		IsTyping bool   `json:"isTyping"`
	}
	fabric.Emit("room-1", "typing", payload{RoomID: "room-1", IsTyping: true}, uuid.Nil)

	frames := ft.frames(t)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	var got payload
	if err := json.Unmarshal(frames[0].Payload, &got); err != nil {
		t.Fatalf("payload did not round-trip: %v", err)
	}
	if got.RoomID != "room-1" || !got.IsTyping {
		t.Errorf("unexpected payload: %+v", got)
	}
}
