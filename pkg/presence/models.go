package presence

import (
	"time"

	"github.com/google/uuid"

	"github.com/busihe/chat-for-telemed/pkg/model"
)

// Transport is the send side of one live client connection. The concrete
// implementation lives in pkg/transport; the registry and broadcast fabric
// only ever need these three methods, and tests substitute their own.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Identity is the authenticated principal attached to a connection at
// upgrade time. The connection does not count as online until the client
// announces itself (user:online).
type Identity struct {
	UserID string
	Name   string
	Role   model.Role
}

// Connection is the registry's view of one transport session. It is owned
// by the connection's event loop; the registry holds it for lookups only.
type Connection struct {
	ID        uuid.UUID
	Transport Transport
	Identity  Identity
	User      *User // nil until SetOnline
	Rooms     map[string]struct{}
	CreatedAt time.Time
}

// User aggregates every live connection of one user identity.
type User struct {
	ID          string
	Name        string
	Role        model.Role
	Connections map[uuid.UUID]*Connection
}

// Room is the broadcast scope of one conversation. Members are connections,
// not users: the same user may listen from several devices, and a typing
// fanout excludes exactly the originating connection.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Connection
}

// OnlineUser is the snapshot entry emitted with presence-changed events.
type OnlineUser struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}
