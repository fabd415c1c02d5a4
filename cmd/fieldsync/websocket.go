package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback only.
		return true
	},
}

// wsEnvelope wraps every pushed message.
type wsEnvelope struct {
	Type      string              `json:"type"`
	Status    orchestrator.Status `json:"status"`
	Timestamp int64               `json:"timestamp"`
}

const eventStatusChanged = "status.changed"

// wsHub pushes status snapshots to connected display surfaces.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

// BroadcastStatus fans a status snapshot out to every connected client.
// Slow clients are dropped rather than allowed to block the hub.
func (h *wsHub) BroadcastStatus(status orchestrator.Status) {
	envelope := wsEnvelope{
		Type:      eventStatusChanged,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("failed to marshal status event", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- raw:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

// Handler upgrades connections and starts the write pump.
func (h *wsHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("websocket upgrade failed", err)
			return
		}

		client := &wsClient{conn: conn, send: make(chan []byte, 64)}
		h.mu.Lock()
		h.clients[client] = true
		h.mu.Unlock()

		go client.writePump()
		go client.readPump(h)
	}
}

// readPump discards inbound frames; it exists to notice disconnects.
func (c *wsClient) readPump(h *wsHub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
