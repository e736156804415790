// Package hub fans stream events out to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

// Message is the wire envelope pushed to every subscriber.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub tracks live WebSocket clients. A client that cannot accept a write
// within the deadline is evicted; slow browsers must not stall the stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

func New() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", count).Msg("websocket client added")
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", count).Msg("websocket client removed")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client, dropping the ones that fail.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	var failed []*websocket.Conn
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		log.Warn().Msg("evicting unresponsive websocket client")
		h.RemoveClient(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}
