package router

import "encoding/json"

// ClientMessage is the inbound wire frame. Payload shapes are validated per
// event; anything malformed is answered with an error event, never
// propagated.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type userOnlinePayload struct {
	UserID string `json:"userId"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type sendMessagePayload struct {
	RoomID         string `json:"roomId"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type callInitiatePayload struct {
	ConversationID string          `json:"conversationId"`
	CallerID       string          `json:"callerId"`
	ReceiverID     string          `json:"receiverId"`
	CallType       string          `json:"callType"`
	Signal         json.RawMessage `json:"signal,omitempty"`
}

type callActionPayload struct {
	CallID         string          `json:"callId"`
	ConversationID string          `json:"conversationId"`
	Signal         json.RawMessage `json:"signal,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
