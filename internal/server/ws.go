package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/nosegoes/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Controls are the game actions a connected screen or phone may trigger.
type Controls interface {
	Start() error
	Reset()
}

// Message is what the hub sends to clients.
type Message struct {
	Type  string      `json:"type"` // "snapshot", "event" or "error"
	State any         `json:"state,omitempty"`
	Event *game.Event `json:"event,omitempty"`
	Error string      `json:"error,omitempty"`
}

// command is what clients may send.
type command struct {
	Type string `json:"type"` // "start" or "reset"
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans game events out to every connected websocket client. A client
// that cannot keep up is dropped rather than slowing the game down.
type Hub struct {
	controls Controls
	snapshot func() any
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. snapshot renders the full state sent to a client on
// connect. controls may be nil, in which case client commands are ignored.
func NewHub(controls Controls, snapshot func() any, log logrus.FieldLogger) *Hub {
	return &Hub{
		controls: controls,
		snapshot: snapshot,
		log:      log,
		clients:  make(map[*client]struct{}),
	}
}

// Publish sends e to every client. It never waits on a slow client and can be
// subscribed directly as a session listener.
func (h *Hub) Publish(e game.Event) {
	msg, err := json.Marshal(Message{Type: "event", Event: &e})
	if err != nil {
		h.log.WithError(err).Warn("encode event")
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug("dropping slow client")
			h.removeLocked(c)
		}
	}
}

// Clients returns how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// ServeHTTP handles websocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// The snapshot is queued under the same lock that registers the client,
	// so every event published afterwards follows it.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.snapshot != nil {
		if msg, err := json.Marshal(Message{Type: "snapshot", State: h.snapshot()}); err == nil {
			c.send <- msg
		}
	}
	h.mu.Unlock()

	go c.writePump()
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.handle(c, cmd)
	}
}

func (h *Hub) handle(c *client, cmd command) {
	if h.controls == nil {
		return
	}

	switch cmd.Type {
	case "start":
		if err := h.controls.Start(); err != nil {
			h.reply(c, Message{Type: "error", Error: err.Error()})
		}
	case "reset":
		h.controls.Reset()
	default:
		// ignore unknown types
	}
}

func (h *Hub) reply(c *client, m Message) {
	msg, err := json.Marshal(m)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
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
