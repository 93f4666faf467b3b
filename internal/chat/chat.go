// Package chat holds the conversation, message and call services: the
// business rules between the REST/socket surfaces and the store, plus the
// fanout of the events each operation produces.
package chat

import (
	"github.com/google/uuid"
)

// Broadcaster is the slice of the broadcast fabric the services need.
// Validation and authorization always complete before anything is emitted.
type Broadcaster interface {
	Emit(roomID, event string, payload any, exclude uuid.UUID)
	EmitAll(event string, payload any)
}

// nopBroadcaster lets a service run without a fabric (REST-only setups
// and some tests).
type nopBroadcaster struct{}

func (nopBroadcaster) Emit(string, string, any, uuid.UUID) {}
func (nopBroadcaster) EmitAll(string, any)                 {}
