package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// Conn is one live viewer connection.
type Conn interface {
	ID() string
	Identity() domain.Identity
	// Send queues msg without blocking; an error means the connection is gone or too slow.
	Send(msg Message) error
	Close()
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	Room      string
	Delivered int
	Dropped   int
}

// Hub tracks room membership. It holds no state that outlives a connection.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn
	joined map[string]map[string]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[string]Conn),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Join enrolls c into room and reports whether it was newly added.
func (h *Hub) Join(room string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	if _, exists := members[c.ID()]; exists {
		return false
	}
	members[c.ID()] = c

	rooms, ok := h.joined[c.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[c.ID()] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave removes c from room and reports whether it was a member.
func (h *Hub) Leave(room string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(room, c.ID())
}

func (h *Hub) leaveLocked(room, connID string) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, connID)
		}
	}
	return true
}

// Disconnect removes c from every room and returns the rooms it left.
func (h *Hub) Disconnect(c Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := h.joined[c.ID()]
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		h.leaveLocked(room, c.ID())
	}
	return left
}

// InRoom reports whether c is a member of room.
func (h *Hub) InRoom(room string, c Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c.ID()]
	return ok
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers msg to every member of room except the connection with exceptID.
func (h *Hub) Broadcast(room string, msg Message, exceptID string) BroadcastResult {
	return h.BroadcastWhere(room, msg, func(c Conn) bool { return c.ID() != exceptID })
}

// BroadcastWhere delivers msg to the members of room accepted by keep.
// Members whose send fails are disconnected from every room and closed.
// An empty or unknown room is a no-op.
func (h *Hub) BroadcastWhere(room string, msg Message, keep func(Conn) bool) BroadcastResult {
	result := BroadcastResult{Room: room}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		if keep == nil || keep(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var dead []Conn
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			dead = append(dead, c)
			continue
		}
		result.Delivered++
	}

	for _, c := range dead {
		h.Disconnect(c)
		c.Close()
		h.logger.Debug("dropped realtime connection", zap.String("conn_id", c.ID()), zap.String("room", room))
	}
	result.Dropped = len(dead)
	return result
}
