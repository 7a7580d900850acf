package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianops/meridian-failover/internal/models"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth. Clients
	// that fall this far behind are disconnected.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GroupLister supplies the group snapshot sent to clients on connect.
type GroupLister interface {
	ListGroups() ([]models.GroupStatus, error)
}

// GroupListerFunc adapts a function to the GroupLister interface.
type GroupListerFunc func() ([]models.GroupStatus, error)

// ListGroups implements GroupLister.
func (f GroupListerFunc) ListGroups() ([]models.GroupStatus, error) { return f() }

// Hub manages WebSocket client connections for GET /v1/stream and pushes
// transition and decision frames to all of them as the engine produces
// events. It satisfies the engine's event sink contract: the push methods
// never block the caller.
type Hub struct {
	groups GroupLister
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub that snapshots groups from the given lister on
// connect.
func NewHub(groups GroupLister, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups:  groups,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// TransitionOccurred pushes a state transition frame to all clients.
func (h *Hub) TransitionOccurred(transition models.StateTransition) {
	h.publish("transition", toTransitionResponse(transition))
}

// DecisionIssued pushes a failover decision frame to all clients.
func (h *Hub) DecisionIssued(decision models.FailoverDecision) {
	h.publish("decision", toDecisionResponse(decision))
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the
// client. It sends the current group statuses immediately on connect, then
// forwards engine events as they arrive. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Queue the current state before registering so dashboards render
	// immediately and the send cannot race a shutdown close.
	if data, err := h.groupsFrame(); err == nil {
		c.send <- data
	}

	h.register(c)
	defer h.unregister(c)

	h.logger.Debug("stream client connected", "remote", conn.RemoteAddr().String())

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// publish marshals an event envelope and fans it out to every client.
// Clients whose buffers are full are dropped rather than slowing the engine.
func (h *Hub) publish(eventType string, payload any) {
	data, err := json.Marshal(StreamEvent{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Warn("stream event marshal failed", "type", eventType, "error", err)
		return
	}

	// Sends happen under the read lock; channel closes happen under the
	// write lock, so a send can never hit a closed channel.
	var dropped []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.logger.Warn("dropping slow stream client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) groupsFrame() ([]byte, error) {
	statuses, err := h.groups.ListGroups()
	if err != nil {
		return nil, err
	}
	out := make([]GroupResponse, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, toGroupResponse(status))
	}
	return json.Marshal(StreamEvent{Type: "groups", Payload: out})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards frames to the
// WebSocket connection. It also sends periodic ping frames. Runs in its
// own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
