package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Event is pushed to websocket clients whenever local state changes.
// Entity names the table that changed ("messages", "authors") or "engine"
// for fetching-state transitions.
type Event struct {
	Entity   string `json:"entity"`
	Fetching bool   `json:"fetching,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks websocket subscribers and fans events out to them.
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	events     chan Event
	logger     *slog.Logger
}

// NewHub creates an empty hub. Run must be called before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan Event, 16),
		logger:     logger,
	}
}

// Publish queues an event for delivery to all connected clients. It never
// blocks; if the hub is saturated the event is dropped, which is fine for
// change notifications since clients re-read state over HTTP anyway.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

// Run owns the client set. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Info("Websocket client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("Websocket client disconnected", "clients", len(h.clients))
			}
		case ev := <-h.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("Failed to marshal event", "error", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow client; drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// readPump discards inbound frames; the socket is push-only. It exists so
// close frames and pongs are processed.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
