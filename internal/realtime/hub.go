// Package realtime pushes entity change events to connected viewers over
// websockets. Delivery is best effort: there is no persistence, no replay
// for late joiners, and a viewer that cannot keep up is disconnected.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsewatch/pulsewatch/internal/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultBufferSize = 64
)

// controlMessage is the only inbound payload viewers may send.
type controlMessage struct {
	Type string `json:"type"`
}

// Hub owns the set of connected viewer sessions and fans events out to all
// of them. It is constructed at startup and torn down at shutdown; there is
// no package-level state.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	closed      bool

	bufferSize int
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub constructs a realtime hub.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		connections: make(map[*connection]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return hostWithoutPort(origin) == hostWithoutPort(r.Host) ||
					isLoopback(hostWithoutPort(origin))
			},
		},
	}
}

// ServeHTTP upgrades the request to a websocket and registers the viewer.
// The viewer immediately receives a connected acknowledgment. Note there is
// no per-organization scoping: every viewer receives every organization's
// events and the client discards what it does not display.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		send:   make(chan []byte, h.bufferSize),
		done:   make(chan struct{}),
	}

	if !h.register(client) {
		// Hub is shutting down.
		_ = socket.Close()
		return
	}

	client.sendJSON(map[string]string{
		"type":    "connected",
		"message": "connected to pulsewatch event stream",
	})

	go client.writeLoop()
	client.readLoop()
}

// Broadcast serializes the event once and queues it to every registered
// viewer whose transport is still open. Closed transports are skipped; a
// slow or failed viewer never interrupts delivery to the rest.
func (h *Hub) Broadcast(event Event) {
	payload, err := Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal broadcast event", "type", event.EventType(), "error", err)
		return
	}

	metrics.RealtimeBroadcasts.WithLabelValues(string(event.EventType())).Inc()

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.connections))
	for c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// ConnectionCount returns the number of registered viewers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes all viewer connections and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*connection, 0, len(h.connections))
	for c := range h.connections {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

func (h *Hub) register(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[c] = struct{}{}
	metrics.RealtimeConnections.Set(float64(len(h.connections)))
	return true
}

// unregister removes a viewer. Removing an absent viewer is a no-op.
func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; !ok {
		return
	}
	delete(h.connections, c)
	metrics.RealtimeConnections.Set(float64(len(h.connections)))
}

// connection is a single viewer session. The send channel is never closed;
// teardown is signaled through done so that a broadcast racing with close
// can at worst queue a message nobody will read.
type connection struct {
	hub    *Hub
	socket *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// enqueue hands a payload to the write loop without blocking. A viewer
// whose queue is full is dropped rather than allowed to stall broadcasts.
func (c *connection) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- payload:
	default:
		metrics.RealtimeDroppedSends.Inc()
		c.hub.logger.Warn("dropping slow viewer connection")
		c.close()
	}
}

func (c *connection) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("unexpected websocket close", "error", err)
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		// Malformed control messages are dropped silently.
		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(ctrl.Type), "ping") {
			c.sendJSON(map[string]string{"type": "pong"})
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "ws://")
	host = strings.TrimPrefix(host, "wss://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
