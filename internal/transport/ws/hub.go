package ws

import (
	"sync"
)

type Conn interface {
	ID() string
	Send(msg Message) error
}

// Hub tracks which connections belong to which class room. Membership is
// driven by the gateway: a connection is added once its join completes and
// removed on teardown.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // classID -> connID -> conn
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Conn)}
}

func (h *Hub) Add(classID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[classID]
	if !ok {
		rs = make(map[string]Conn)
		h.rooms[classID] = rs
	}
	rs[c.ID()] = c
}

func (h *Hub) Remove(classID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[classID]; ok {
		delete(rs, connID)
		if len(rs) == 0 {
			delete(h.rooms, classID)
		}
	}
}

// Broadcast sends msg to every connection of the class except excludeConn.
// Delivery is best-effort; a dead socket is dealt with by its own read
// loop, not here.
func (h *Hub) Broadcast(classID string, msg Message, excludeConn string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rs, ok := h.rooms[classID]; ok {
		for id, c := range rs {
			if id == excludeConn {
				continue
			}
			_ = c.Send(msg)
		}
	}
}
