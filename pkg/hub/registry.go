package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender is the outbound half of a transport session. *transport.Connection
// satisfies it; tests substitute a recording fake.
type Sender interface {
	Send(message []byte)
}

// Connection is the registry's record of one live transport session. A
// connection belongs to exactly one user for its whole lifetime.
type Connection struct {
	ID        uuid.UUID
	UserID    string
	Transport Sender
	CreatedAt time.Time
}

// Registry owns the mapping from users to their live connections. It is the
// single piece of shared mutable state in the realtime core; every method is
// safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
	users map[string]map[uuid.UUID]*Connection

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		users:  make(map[string]map[uuid.UUID]*Connection),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Admit registers a connection under userID. Admitting an already-registered
// connection id is idempotent and returns the existing record.
func (r *Registry) Admit(connID uuid.UUID, userID string, transport Sender) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connID]; ok {
		return existing
	}

	conn := &Connection{
		ID:        connID,
		UserID:    userID,
		Transport: transport,
		CreatedAt: time.Now(),
	}
	r.conns[connID] = conn

	userConns, ok := r.users[userID]
	if !ok {
		userConns = make(map[uuid.UUID]*Connection)
		r.users[userID] = userConns
	}
	userConns[connID] = conn

	r.logger.Debug("Connection admitted", slog.String("connID", connID.String()), slog.String("userID", userID))
	return conn
}

// Evict removes a connection. Evicting an unknown id is a no-op; disconnects
// race with in-flight dispatches and must never crash a handler. When the last
// connection of a user goes, the user entry goes with it.
func (r *Registry) Evict(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if userConns, ok := r.users[conn.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.users, conn.UserID)
		}
	}
	r.logger.Debug("Connection evicted", slog.String("connID", connID.String()), slog.String("userID", conn.UserID))
}

// Get returns the registry record for a connection id.
func (r *Registry) Get(connID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// UserOf resolves a connection id to its owning user.
func (r *Registry) UserOf(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return conn.UserID, true
}

// ConnectionsFor returns a snapshot of a user's live connections, possibly
// empty.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.users[userID]
	conns := make([]*Connection, 0, len(userConns))
	for _, c := range userConns {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionCount reports how many live connections a user holds. Unknown
// users have zero.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// OldestConnection finds the user's longest-lived connection, used by the
// connection limiter's cycle mode.
func (r *Registry) OldestConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Connection
	for _, conn := range r.users[userID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

// AllConnections snapshots every live connection, for shutdown.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
