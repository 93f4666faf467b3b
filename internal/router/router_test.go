package router_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/internal/chat"
	"github.com/busihe/chat-for-telemed/internal/hub"
	"github.com/busihe/chat-for-telemed/internal/router"
	"github.com/busihe/chat-for-telemed/internal/store"
	"github.com/busihe/chat-for-telemed/internal/store/memstore"
	"github.com/busihe/chat-for-telemed/pkg/model"
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

func (f *fakeTransport) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []string
	for _, raw := range f.sent {
		var env hub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		events = append(events, env.Event)
	}
	return events
}

func (f *fakeTransport) lastPayload(t *testing.T) json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no frames received")
	}
	var env hub.Envelope
	if err := json.Unmarshal(f.sent[len(f.sent)-1], &env); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	return env.Payload
}

type fixture struct {
	registry *presence.Registry
	router   *router.EventRouter
	stores   store.Stores
	convID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	registry := presence.NewRegistry(logger)
	fabric := hub.NewFabric(registry, logger)
	stores := memstore.New()

	messages := chat.NewMessageService(stores.Conversations, stores.Messages, fabric, logger)
	calls := chat.NewCallService(stores.Conversations, stores.Calls, fabric, logger)

	conv, err := stores.Conversations.Create(context.Background(), []string{"doctor-1", "patient-1"})
	if err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return &fixture{
		registry: registry,
		router:   router.NewEventRouter(logger, registry, fabric, messages, calls),
		stores:   stores,
		convID:   conv.ID,
	}
}

// connect registers a transport with the given token identity.
func (f *fixture) connect(t *testing.T, userID string) *fakeTransport {
	t.Helper()
	ft := newFakeTransport()
	if _, err := f.registry.Register(ft, presence.Identity{UserID: userID, Name: userID, Role: model.RolePatient}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return ft
}

func (f *fixture) dispatch(ft *fakeTransport, event string, payload string) {
	frame := []byte(`{"event":"` + event + `","payload":` + payload + `}`)
	f.router.HandleMessage(context.Background(), ft.ID(), frame)
}

func TestUserOnlineBroadcastsPresence(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")

	f.dispatch(doctor, "user:online", `{"userId":"doctor-1"}`)

	// Every registered connection gets the refreshed list, announced or not.
	for _, ft := range []*fakeTransport{doctor, patient} {
		events := ft.events(t)
		if len(events) != 1 || events[0] != hub.EventOnlineUsers {
			t.Fatalf("expected a single onlineUsers frame, got %v", events)
		}
	}

	var online []presence.OnlineUser
	if err := json.Unmarshal(doctor.lastPayload(t), &online); err != nil {
		t.Fatalf("bad onlineUsers payload: %v", err)
	}
	if len(online) != 1 || online[0].ID != "doctor-1" {
		t.Errorf("unexpected online list: %v", online)
	}
}

func TestUserOnlineIdentityMismatch(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")

	f.dispatch(doctor, "user:online", `{"userId":"somebody-else"}`)

	events := doctor.events(t)
	if len(events) != 1 || events[0] != hub.EventError {
		t.Fatalf("expected an error frame, got %v", events)
	}
	if got := f.registry.Online(); len(got) != 0 {
		t.Errorf("mismatched announcement must not set the user online, got %v", got)
	}
}

func TestSendMessageRequiresPresence(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")

	f.dispatch(doctor, "sendMessage", `{"conversationId":"`+f.convID+`","text":"hi"}`)

	events := doctor.events(t)
	if len(events) != 1 || events[0] != hub.EventError {
		t.Fatalf("expected an error frame for anonymous send, got %v", events)
	}
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(doctor.lastPayload(t), &p); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if p.Code != "UNAUTHENTICATED" {
		t.Errorf("expected UNAUTHENTICATED, got %q", p.Code)
	}

	msgs, _ := f.stores.Messages.ListByConversation(context.Background(), f.convID)
	if len(msgs) != 0 {
		t.Error("anonymous send must not persist a message")
	}
}

func TestSendMessageFansOutToRoom(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")

	f.dispatch(doctor, "user:online", `{"userId":"doctor-1"}`)
	f.dispatch(doctor, "joinConversation", `"`+f.convID+`"`)
	f.dispatch(patient, "joinConversation", `{"roomId":"`+f.convID+`"}`)

	f.dispatch(doctor, "sendMessage", `{"conversationId":"`+f.convID+`","text":"take your meds"}`)

	// Sender gets the echo too.
	for _, ft := range []*fakeTransport{doctor, patient} {
		events := ft.events(t)
		if events[len(events)-1] != hub.EventReceiveMessage {
			t.Fatalf("expected receiveMessage as last frame, got %v", events)
		}
	}

	var payload chat.ReceiveMessagePayload
	if err := json.Unmarshal(patient.lastPayload(t), &payload); err != nil {
		t.Fatalf("bad receiveMessage payload: %v", err)
	}
	if payload.Message == nil || payload.Message.Text != "take your meds" {
		t.Errorf("unexpected message payload: %+v", payload)
	}

	msgs, _ := f.stores.Messages.ListByConversation(context.Background(), f.convID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(msgs))
	}
}

func TestTypingExcludesSenderAndBindsIdentity(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")

	f.dispatch(doctor, "user:online", `{"userId":"doctor-1"}`)
	f.dispatch(doctor, "joinConversation", `"`+f.convID+`"`)
	f.dispatch(patient, "joinConversation", `"`+f.convID+`"`)
	doctorFrames := len(doctor.events(t))

	// The client-supplied userId is overwritten with the bound identity.
	f.dispatch(doctor, "typing", `{"roomId":"`+f.convID+`","userId":"spoofed","isTyping":true}`)

	if got := len(doctor.events(t)); got != doctorFrames {
		t.Error("typing event echoed back to its sender")
	}
	events := patient.events(t)
	if events[len(events)-1] != hub.EventTyping {
		t.Fatalf("expected typing frame, got %v", events)
	}
	var p struct {
		UserID   string `json:"userId"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(patient.lastPayload(t), &p); err != nil {
		t.Fatalf("bad typing payload: %v", err)
	}
	if p.UserID != "doctor-1" || !p.IsTyping {
		t.Errorf("unexpected typing payload: %+v", p)
	}
}

func TestCallFlowOverSocket(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")

	f.dispatch(doctor, "user:online", `{"userId":"doctor-1"}`)
	f.dispatch(patient, "user:online", `{"userId":"patient-1"}`)
	f.dispatch(doctor, "joinConversation", `"`+f.convID+`"`)
	f.dispatch(patient, "joinConversation", `"`+f.convID+`"`)

	f.dispatch(doctor, "call:initiate", `{"conversationId":"`+f.convID+`","receiverId":"patient-1","callType":"video"}`)

	patientEvents := patient.events(t)
	if patientEvents[len(patientEvents)-1] != hub.EventCallIncoming {
		t.Fatalf("expected call:incoming at receiver, got %v", patientEvents)
	}
	doctorEvents := doctor.events(t)
	if doctorEvents[len(doctorEvents)-1] == hub.EventCallIncoming {
		t.Fatal("caller must not receive its own ring")
	}

	var ring chat.CallEventPayload
	if err := json.Unmarshal(patient.lastPayload(t), &ring); err != nil {
		t.Fatalf("bad call:incoming payload: %v", err)
	}
	callID := ring.Call.ID

	f.dispatch(patient, "call:answer", `{"callId":"`+callID+`"}`)
	doctorEvents = doctor.events(t)
	if doctorEvents[len(doctorEvents)-1] != hub.EventCallAnswered {
		t.Fatalf("expected call:answered at caller, got %v", doctorEvents)
	}

	f.dispatch(doctor, "call:end", `{"callId":"`+callID+`"}`)
	patientEvents = patient.events(t)
	if patientEvents[len(patientEvents)-1] != hub.EventCallEnded {
		t.Fatalf("expected call:ended at receiver, got %v", patientEvents)
	}

	// Acting on the ended call again reports call:error to the actor only.
	f.dispatch(patient, "call:reject", `{"callId":"`+callID+`"}`)
	patientEvents = patient.events(t)
	if patientEvents[len(patientEvents)-1] != hub.EventCallError {
		t.Fatalf("expected call:error, got %v", patientEvents)
	}
}

func TestSignalRelayFansOutUnchanged(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")
	f.dispatch(doctor, "joinConversation", `"`+f.convID+`"`)
	f.dispatch(patient, "joinConversation", `"`+f.convID+`"`)

	raw := `{"conversationId":"` + f.convID + `","candidate":{"sdpMid":"0"}}`
	f.dispatch(doctor, "call:iceCandidate", raw)

	if len(doctor.events(t)) != 0 {
		t.Error("signal relayed back to its sender")
	}
	events := patient.events(t)
	if len(events) != 1 || events[0] != "call:iceCandidate" {
		t.Fatalf("expected relayed call:iceCandidate, got %v", events)
	}
	var got json.RawMessage
	if err := json.Unmarshal(patient.lastPayload(t), &got); err != nil {
		t.Fatalf("bad relayed payload: %v", err)
	}
	var blob struct {
		Candidate map[string]string `json:"candidate"`
	}
	if err := json.Unmarshal(got, &blob); err != nil {
		t.Fatalf("relayed blob is not the original payload: %v", err)
	}
	if blob.Candidate["sdpMid"] != "0" {
		t.Error("signal payload was altered in transit")
	}
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")

	f.router.HandleMessage(context.Background(), doctor.ID(), []byte(`not json`))
	f.dispatch(doctor, "fly:toTheMoon", `{}`)

	events := doctor.events(t)
	if len(events) != 2 || events[0] != hub.EventError || events[1] != hub.EventError {
		t.Fatalf("expected two error frames, got %v", events)
	}
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	f := newFixture(t)
	doctor := f.connect(t, "doctor-1")
	patient := f.connect(t, "patient-1")
	f.dispatch(doctor, "user:online", `{"userId":"doctor-1"}`)
	patientFrames := len(patient.events(t))

	f.router.HandleDisconnect(doctor.ID())

	events := patient.events(t)
	if len(events) != patientFrames+1 || events[len(events)-1] != hub.EventOnlineUsers {
		t.Fatalf("expected an onlineUsers frame after disconnect, got %v", events)
	}
	var online []presence.OnlineUser
	if err := json.Unmarshal(patient.lastPayload(t), &online); err != nil {
		t.Fatalf("bad onlineUsers payload: %v", err)
	}
	if len(online) != 0 {
		t.Errorf("expected empty online list, got %v", online)
	}

	// Disconnecting a connection that never announced emits nothing more.
	f.router.HandleDisconnect(patient.ID())
	if got := len(patient.events(t)); got != len(events) {
		t.Error("silent connection's disconnect should not broadcast")
	}
}
