package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/habitverse/habitverse-core/internal/application/eventhandler"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET HUB
// Keeps the live dashboard connections of every user and fans progress events
// out to them.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound messages buffered per connection before it counts as slow.
	sendBuffer = 256

	// Clients only send control frames.
	maxMessageSize = 512
)

// ErrHubClosed is returned when a connection arrives after Close.
var ErrHubClosed = errors.New("hub closed")

// Hub implements eventhandler.Broadcaster over websocket connections.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	closed  bool

	// wg tracks the read and write pumps.
	wg sync.WaitGroup
}

var _ eventhandler.Broadcaster = (*Hub)(nil)

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates a hub. allowedOrigins follows the CORS list: "*" accepts any
// origin and requests without an Origin header are always accepted.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  log.Named("ws_hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS upgrades GET /ws?user_id=<id> and subscribes the connection to the
// user's events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.NewUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", ErrHubClosed.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", logger.Err(err))
		return
	}

	c := &client{
		hub:    h,
		userID: userID.String(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.logger.Debug("client connected", logger.UserID(c.userID))

	go c.writePump()
	go c.readPump()
}

// SendToUser queues msg on every connection of the user. Connections whose
// buffer is full are dropped.
func (h *Hub) SendToUser(userID string, msg eventhandler.LiveMessage) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode live message", logger.Err(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
			sent++
		default:
			h.logger.Warn("dropping slow client", logger.UserID(userID))
			h.removeLocked(c)
		}
	}
	return sent
}

// Connections returns how many connections a user has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}

// add registers c and counts its two pumps in wg under the same lock Close
// takes, so Close either rejects c or waits for its pumps.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(2)
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send exactly once: only the call that finds c in the
// map closes it.
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// readPump drains the connection so pongs and close frames are processed.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", logger.UserID(c.userID), logger.Err(err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
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
