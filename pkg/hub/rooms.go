package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Router records which connections are joined to which rooms and fans
// broadcasts out over the registry. Join trusts that the connection has been
// admitted; the registry's invariants are not re-checked here.
type Router struct {
	mu     sync.RWMutex
	rooms  map[Room]map[uuid.UUID]struct{}
	byConn map[uuid.UUID]map[Room]struct{}

	registry *Registry
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		rooms:    make(map[Room]map[uuid.UUID]struct{}),
		byConn:   make(map[uuid.UUID]map[Room]struct{}),
		registry: registry,
		logger:   logger.With(slog.String("component", "room_router")),
	}
}

func (rt *Router) Join(connID uuid.UUID, room Room) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	members, ok := rt.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		rt.rooms[room] = members
	}
	members[connID] = struct{}{}

	joined, ok := rt.byConn[connID]
	if !ok {
		joined = make(map[Room]struct{})
		rt.byConn[connID] = joined
	}
	joined[room] = struct{}{}

	rt.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("room", room.String()))
}

func (rt *Router) Leave(connID uuid.UUID, room Room) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.leaveLocked(connID, room)
}

// LeaveAll prunes every membership a connection holds, called on eviction.
func (rt *Router) LeaveAll(connID uuid.UUID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for room := range rt.byConn[connID] {
		rt.leaveLocked(connID, room)
	}
}

func (rt *Router) leaveLocked(connID uuid.UUID, room Room) {
	if members, ok := rt.rooms[room]; ok {
		delete(members, connID)
		// Rooms exist only while someone is joined.
		if len(members) == 0 {
			delete(rt.rooms, room)
			rt.logger.Debug("Removed empty room", slog.String("room", room.String()))
		}
	}
	if joined, ok := rt.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(rt.byConn, connID)
		}
	}
}

// Members returns a snapshot of the connection ids currently joined to room.
func (rt *Router) Members(room Room) []uuid.UUID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(rt.rooms[room]))
	for id := range rt.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns a snapshot of the rooms a connection is joined to.
func (rt *Router) Rooms(connID uuid.UUID) []Room {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	rooms := make([]Room, 0, len(rt.byConn[connID]))
	for room := range rt.byConn[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Broadcast sends message to every connection joined to room except exclude
// (uuid.Nil excludes nobody). Membership is snapshotted before sending so a
// concurrent leave never turns into a send on an evicted connection. Delivery
// is best-effort to live sockets only; the returned count is observability,
// not a correctness signal.
func (rt *Router) Broadcast(room Room, message []byte, exclude uuid.UUID) int {
	members := rt.Members(room)

	delivered := 0
	for _, connID := range members {
		if connID == exclude {
			continue
		}
		conn, ok := rt.registry.Get(connID)
		if !ok {
			// Raced with an eviction; the membership snapshot is stale.
			continue
		}
		conn.Transport.Send(message)
		delivered++
	}

	rt.logger.Debug("Broadcast delivered",
		slog.String("room", room.String()),
		slog.Int("delivered", delivered),
	)
	return delivered
}
