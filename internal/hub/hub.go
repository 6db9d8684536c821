// Package hub pushes each newly ingested payload to connected dashboards over
// websockets.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourorg/traffic-bridge/internal/logger"
)

const writeWait = 5 * time.Second

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func New(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Live feed client connected", "clients", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Live feed client disconnected", "clients", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn("Live feed send failed", "remote", client.RemoteAddr().String(), "error", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register hands conn to the hub. It reports false if the hub has stopped.
func (h *Hub) Register(conn *websocket.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues message for every client. It never blocks; when the hub
// is backed up the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		h.logger.Warn("Live feed backlog full, dropping update")
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request, sends initial (if any) and keeps the
// connection registered until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	if initial != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			conn.Close()
			return
		}
	}

	if !h.Register(conn) {
		conn.Close()
		return
	}
	defer h.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Live feed client read error", "error", err)
			}
			return
		}
	}
}
