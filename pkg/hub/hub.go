// Package hub tracks live connections and their room memberships, and fans
// messages out to per-user, per-group and per-ride audiences. It holds no
// domain logic: who is allowed into a group or ride room is decided outside
// and granted through JoinRoom.
package hub

import (
	"log/slog"

	"github.com/google/uuid"
)

// Hub bundles the connection registry and the room router. It is constructed
// once and passed by reference to everything that needs to broadcast; there is
// no ambient global instance.
type Hub struct {
	Registry *Registry
	Rooms    *Router

	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	registry := NewRegistry(logger)
	return &Hub{
		Registry: registry,
		Rooms:    NewRouter(registry, logger),
		logger:   logger.With(slog.String("component", "hub")),
	}
}

// Admit registers a connection for userID and auto-joins it to the user's own
// room, so direct messages need no explicit join.
func (h *Hub) Admit(connID uuid.UUID, userID string, transport Sender) *Connection {
	conn := h.Registry.Admit(connID, userID, transport)
	h.Rooms.Join(connID, UserRoom(userID))
	return conn
}

// Evict prunes all room memberships and removes the connection. Safe to call
// for unknown ids and safe to call while a dispatch for the same connection is
// still in flight.
func (h *Hub) Evict(connID uuid.UUID) {
	h.Rooms.LeaveAll(connID)
	h.Registry.Evict(connID)
}

// JoinRoom joins every live connection of userID to room. Membership is
// granted by domain logic outside the core (group/ride membership checks
// happen there); the hub only executes the grant. Returns how many
// connections were joined.
func (h *Hub) JoinRoom(userID string, room Room) int {
	conns := h.Registry.ConnectionsFor(userID)
	for _, conn := range conns {
		h.Rooms.Join(conn.ID, room)
	}
	return len(conns)
}

// LeaveRoom removes every live connection of userID from room.
func (h *Hub) LeaveRoom(userID string, room Room) {
	for _, conn := range h.Registry.ConnectionsFor(userID) {
		h.Rooms.Leave(conn.ID, room)
	}
}

// Broadcast forwards to the room router.
func (h *Hub) Broadcast(room Room, message []byte, exclude uuid.UUID) int {
	return h.Rooms.Broadcast(room, message, exclude)
}
