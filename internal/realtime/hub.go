package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Conn is one authenticated transport connection as seen by the dispatcher.
type Conn interface {
	ID() string
	UserID() int64
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg Message) bool
}

// Hub groups connections by room code and delivers events to a room or a single connection.
// Group changes are applied at call time; nothing is buffered for connections that join later.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	rooms  map[string]map[string]Conn
	joined map[string]map[string]struct{}
	logger *zap.Logger
}

// NewHub creates an empty dispatcher.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Conn),
		rooms:  make(map[string]map[string]Conn),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Register makes c addressable by SendToConnection.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
}

// Unregister removes c from every room group and from the connection table.
func (h *Hub) Unregister(c Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := h.leaveAllLocked(c.ID())
	delete(h.conns, c.ID())
	return rooms
}

// Join adds c to the room group.
func (h *Hub) Join(room string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	group, ok := h.rooms[room]
	if !ok {
		group = make(map[string]Conn)
		h.rooms[room] = group
	}
	group[c.ID()] = c
	set, ok := h.joined[c.ID()]
	if !ok {
		set = make(map[string]struct{})
		h.joined[c.ID()] = set
	}
	set[room] = struct{}{}
}

// Leave removes c from the room group.
func (h *Hub) Leave(room string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c.ID())
}

// LeaveByID removes the connection with connID from the room group.
func (h *Hub) LeaveByID(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, connID)
}

// LeaveAll removes c from every room group it is in and returns those rooms.
func (h *Hub) LeaveAll(c Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveAllLocked(c.ID())
}

// CloseRoom drops the whole room group and returns how many connections it held.
func (h *Hub) CloseRoom(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[room]
	for id := range group {
		if set, ok := h.joined[id]; ok {
			delete(set, room)
			if len(set) == 0 {
				delete(h.joined, id)
			}
		}
	}
	delete(h.rooms, room)
	return len(group)
}

// InRoom reports whether the connection is grouped under room.
func (h *Hub) InRoom(room, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Size returns the number of connections grouped under room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom sends an event to every connection in the room group at call time.
// It returns the number of connections that accepted the message.
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) int {
	msg, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(msg) {
			delivered++
			continue
		}
		h.logger.Warn("send buffer full, event dropped",
			zap.String("conn_id", c.ID()), zap.String("room_code", room), zap.String("event", event))
	}
	return delivered
}

// SendToConnection sends an event to one connection. It reports false for unknown or saturated connections.
func (h *Hub) SendToConnection(connID, event string, payload interface{}) bool {
	msg, ok := h.encode(event, payload)
	if !ok {
		return false
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.Send(msg) {
		h.logger.Warn("send buffer full, event dropped", zap.String("conn_id", connID), zap.String("event", event))
		return false
	}
	return true
}

func (h *Hub) encode(event string, payload interface{}) (Message, bool) {
	var data []byte
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case nil:
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshal event payload", zap.String("event", event), zap.Error(err))
			return Message{}, false
		}
	}
	return Message{Event: event, Data: data}, true
}

func (h *Hub) leaveLocked(room, connID string) {
	if group, ok := h.rooms[room]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, room)
		}
	}
	if set, ok := h.joined[connID]; ok {
		delete(set, room)
		if len(set) == 0 {
			delete(h.joined, connID)
		}
	}
}

func (h *Hub) leaveAllLocked(connID string) []string {
	set := h.joined[connID]
	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		h.leaveLocked(room, connID)
	}
	return rooms
}
