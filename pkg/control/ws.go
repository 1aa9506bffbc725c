package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/logger"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxMsgSize  = 4096
	clientQueue = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Hub streams bus events to websocket clients. A client that falls behind
// loses events rather than slowing the engine.
type Hub struct {
	bus        *bus.EventBus
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int32
	dropped    atomic.Int64
}

func NewHub(b *bus.EventBus) *Hub {
	return &Hub{
		bus:        b,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled or the bus closes.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe(clientQueue)
	defer func() {
		cancel()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.count.Store(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))
			logger.DebugCF("control", "Event client connected", map[string]any{
				"remote":  c.remote,
				"clients": len(h.clients),
			})

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int32(len(h.clients)))
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.ErrorCF("control", "Failed to encode event", map[string]any{
					"type":  string(ev.Type),
					"error": err.Error(),
				})
				continue
			}
			for c := range h.clients {
				if !c.enqueue(data) {
					h.dropped.Add(1)
				}
			}
		}
	}
}

// Clients is the number of connected event clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped counts events not delivered to a slow client.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("control", "Websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientQueue),
		remote: r.RemoteAddr,
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugCF("control", "Event client disconnected", map[string]any{
					"remote": c.remote,
					"error":  err.Error(),
				})
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
