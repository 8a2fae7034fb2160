// Package realtime pushes cache invalidation events to connected dashboards
// over WebSocket, so open charts reload after an import.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"opsdash/internal/cache"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

const EventCacheInvalidated = "cache_invalidated"

// Event is a message pushed to dashboards.
type Event struct {
	Type  string     `json:"type"`
	Cache cache.Name `json:"cache,omitempty"`
	At    time.Time  `json:"at"`
}

type connection struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks dashboard connections. A user may hold several.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	now         func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[*connection]struct{}),
		now:         time.Now,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends event to every connection. Slow clients miss the event.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Invalidate implements cache.Invalidator.
func (h *Hub) Invalidate(_ context.Context, name cache.Name) error {
	h.Broadcast(Event{Type: EventCacheInvalidated, Cache: name, At: h.now().UTC()})
	return nil
}

// ServeWS registers conn and blocks until the client disconnects.
func (h *Hub) ServeWS(conn *websocket.Conn, userID int64) {
	c := &connection{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only drains control frames; dashboards never send data.
func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
