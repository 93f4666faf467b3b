package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownConnection = errors.New("connection is not registered")

// Registry tracks live connections, which user each belongs to, and which
// conversation rooms each is listening to. All maps are guarded by a single
// mutex so join/leave/disconnect from different connections can never see a
// half-applied update. Every read-out method returns a snapshot, never a
// live view into the maps.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
	users map[string]*User
	rooms map[string]*Room

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		users:  make(map[string]*User),
		rooms:  make(map[string]*Room),
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

// Register records a freshly accepted transport along with the identity its
// token carried. The connection is not online yet.
func (r *Registry) Register(t Transport, identity Identity) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := t.ID()
	if _, exists := r.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	conn := &Connection{
		ID:        connID,
		Transport: t,
		Identity:  identity,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	r.conns[connID] = conn
	r.logger.Debug("connection registered", slog.String("connID", connID.String()), slog.String("userID", identity.UserID))
	return conn, nil
}

// SetOnline marks the connection's user as online. A user may hold several
// live connections at once; each SetOnline adds this one to the user's set.
func (r *Registry) SetOnline(connID uuid.UUID) (OnlineUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return OnlineUser{}, ErrUnknownConnection
	}
	userID := conn.Identity.UserID
	user, exists := r.users[userID]
	if !exists {
		user = &User{
			ID:          userID,
			Name:        conn.Identity.Name,
			Role:        conn.Identity.Role,
			Connections: make(map[uuid.UUID]*Connection),
		}
		r.users[userID] = user
	}
	conn.User = user
	user.Connections[connID] = conn

	r.logger.Debug("user online", slog.String("userID", userID), slog.String("connID", connID.String()))
	return OnlineUser{ID: user.ID, Name: user.Name, Role: user.Role}, nil
}

// Deregister removes the connection from every room it joined and detaches
// it from its user. Unknown connections are ignored: this is a cleanup path
// and the connection may already be gone. wasOnline reports whether the
// connection had announced presence, so the caller knows to re-broadcast
// the online list.
func (r *Registry) Deregister(connID uuid.UUID) (wasOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)

	for roomID := range conn.Rooms {
		r.removeFromRoom(roomID, conn)
	}

	if conn.User != nil {
		user := conn.User
		delete(user.Connections, connID)
		if len(user.Connections) == 0 {
			delete(r.users, user.ID)
			r.logger.Debug("user offline", slog.String("userID", user.ID))
		}
		return true
	}
	r.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
	return false
}

// UserOf returns the online identity bound to the connection, if any.
func (r *Registry) UserOf(connID uuid.UUID) (OnlineUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok || conn.User == nil {
		return OnlineUser{}, false
	}
	return OnlineUser{ID: conn.User.ID, Name: conn.User.Name, Role: conn.User.Role}, true
}

// IdentityOf returns the authenticated identity the connection was
// registered with, whether or not it has announced presence yet.
func (r *Registry) IdentityOf(connID uuid.UUID) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Identity{}, false
	}
	return conn.Identity, true
}

// TransportOf returns the transport for a live connection id.
func (r *Registry) TransportOf(connID uuid.UUID) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.Transport, true
}

// Online returns a snapshot of all online users, ordered by user id so the
// emitted onlineUsers list is stable.
func (r *Registry) Online() []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]OnlineUser, 0, len(r.users))
	for _, u := range r.users {
		online = append(online, OnlineUser{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	sort.Slice(online, func(i, j int) bool { return online[i].ID < online[j].ID })
	return online
}

// Join adds the connection to a room, creating the room on first join.
// Joining twice is a no-op. A connection may be in any number of rooms.
func (r *Registry) Join(roomID string, connID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	room, exists := r.rooms[roomID]
	if !exists {
		room = &Room{ID: roomID, Members: make(map[uuid.UUID]*Connection)}
		r.rooms[roomID] = room
	}
	room.Members[connID] = conn
	conn.Rooms[roomID] = struct{}{}

	r.logger.Debug("connection joined room", slog.String("roomID", roomID), slog.String("connID", connID.String()))
	return nil
}

// Leave removes the connection from a room. Safe to call when the
// connection is absent or the room does not exist.
func (r *Registry) Leave(roomID string, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(conn.Rooms, roomID)
	r.removeFromRoom(roomID, conn)
}

// LeaveAll removes the connection from every room it was in and returns the
// rooms left. Invoked on disconnect.
func (r *Registry) LeaveAll(connID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(conn.Rooms))
	for roomID := range conn.Rooms {
		r.removeFromRoom(roomID, conn)
		left = append(left, roomID)
	}
	conn.Rooms = make(map[string]struct{})
	return left
}

// RoomMembers returns a snapshot of the transports currently in the room.
func (r *Registry) RoomMembers(roomID string) []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]Transport, 0, len(room.Members))
	for _, conn := range room.Members {
		members = append(members, conn.Transport)
	}
	return members
}

// ConnectionCount reports how many live connections a user has.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return 0
	}
	return len(user.Connections)
}

// OldestConnection finds the user's longest-lived connection. Used by the
// connection limiter in cycle mode.
func (r *Registry) OldestConnection(userID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	var oldest *Connection
	for _, conn := range user.Connections {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.Transport, true
}

// AllTransports returns every registered transport, online or not.
// Used for process-wide fanout and for graceful shutdown.
func (r *Registry) AllTransports() []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Transport, 0, len(r.conns))
	for _, conn := range r.conns {
		all = append(all, conn.Transport)
	}
	return all
}

// caller must hold r.mu.
func (r *Registry) removeFromRoom(roomID string, conn *Connection) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room.Members, conn.ID)
	// Memory hygiene: drop the room once the last member is gone.
	if len(room.Members) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("removed empty room", slog.String("roomID", roomID))
	}
}
