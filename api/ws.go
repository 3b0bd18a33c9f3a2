package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/events"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub pushes every broadcast event to connected WebSocket viewers
type Hub struct {
	eventsSvc events.IService

	mu      sync.Mutex
	clients map[*websocket.Conn]func()
}

func NewHub(eventsSvc events.IService) *Hub {
	return &Hub{
		eventsSvc: eventsSvc,
		clients:   make(map[*websocket.Conn]func()),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	entries, unsubscribe := h.eventsSvc.Subscribe(clientBuffer)

	h.mu.Lock()
	h.clients[conn] = unsubscribe
	h.mu.Unlock()
	count := h.ClientCount()

	lgr.Logger.Info(
		"event viewer connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("viewers", count),
	)

	go h.writePump(conn, entries)
	go h.readPump(conn)
}

// writePump is the only writer of conn
func (h *Hub) writePump(conn *websocket.Conn, entries <-chan model.LogEntry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(conn)
	}()

	for {
		select {
		case entry, ok := <-entries:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only detects disconnection; viewers never send anything meaningful
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.unregister(conn)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				lgr.Logger.Debug("event viewer read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	unsubscribe, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()

	if !ok {
		return
	}
	unsubscribe()
	conn.Close()
	lgr.Logger.Info(
		"event viewer disconnected",
		slog.String("remote", conn.RemoteAddr().String()),
		slog.Int("viewers", h.ClientCount()),
	)
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.unregister(conn)
	}
}
