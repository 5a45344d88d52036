// Package realtime fans conversation events out to connected CRM viewers.
//
// Delivery is best-effort and at-most-once to currently-connected
// subscribers. There is no replay: a reconnecting client re-subscribes and
// pulls missed state through the history endpoints.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Room names. Each thread and each company is its own broadcast scope.
func ThreadRoom(threadID uuid.UUID) string  { return "thread:" + threadID.String() }
func CompanyRoom(companyID uuid.UUID) string { return "company:" + companyID.String() }

// Envelope is the wire frame sent to subscribers.
type Envelope struct {
	Event   string `json:"event"`
	Room    string `json:"room"`
	Payload any    `json:"payload"`
}

// Hub is the room registry. It is created once at startup and handed to the
// orchestrator; there is no package-level instance. Connect/disconnect and
// publish run concurrently, so all membership access goes through the mutex.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Conn // room -> connID -> conn
	conns  map[string]*Conn            // connID -> conn
	logger *zap.Logger
	closed bool
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Conn),
		conns:  make(map[string]*Conn),
		logger: logger,
	}
}

// Attach registers a connection and starts its write pump.
func (h *Hub) Attach(conn *Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close("hub shutting down")
		return
	}
	h.conns[conn.ID] = conn
	h.mu.Unlock()

	conn.Start()
	h.logger.Debug("connection attached", zap.String("conn_id", conn.ID))
}

// Detach removes a connection from every room it joined and closes it.
func (h *Hub) Detach(conn *Conn) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	for room, members := range h.rooms {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	conn.Close("detached")
	h.logger.Debug("connection detached", zap.String("conn_id", conn.ID))
}

// Subscribe adds the connection to a room. Unknown connections are ignored
// (the client raced a disconnect).
func (h *Hub) Subscribe(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[conn.ID] = conn
}

// Unsubscribe removes the connection from a room.
func (h *Hub) Unsubscribe(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Publish sends an event to every member of the room. Fire-and-forget: the
// member list is copied under a read lock and each send is non-blocking, so
// a slow or gone subscriber never stalls the caller. Undeliverable frames
// are dropped per subscriber.
func (h *Hub) Publish(room, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Room: room, Payload: payload})
	if err != nil {
		h.logger.Error("marshal realtime event",
			zap.String("room", room),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Conn, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			h.logger.Debug("dropped event for subscriber",
				zap.String("room", room),
				zap.String("conn_id", conn.ID),
				zap.Error(err))
		}
	}
}

// MemberCount reports the current size of a room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close shuts the hub down and closes every tracked connection.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Conn)
	h.rooms = make(map[string]map[string]*Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close("hub shutdown")
	}
	h.logger.Info("realtime hub closed", zap.Int("connections", len(conns)))
}
