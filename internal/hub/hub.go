// v2
// internal/hub/hub.go

// Package hub tracks connected live-update subscribers and fans broadcast
// payloads out to them. Delivery is fire-and-forget: a subscriber that is not
// ready is skipped, never removed; removal happens only when its connection
// reports a disconnect.
package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"moldsense/internal/metrics"
	"moldsense/internal/monitor"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// client wraps one subscriber connection. The write mutex serializes writes
// because gorilla/websocket forbids concurrent writers on one connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	joined  time.Time
}

func (c *client) ready() bool {
	return !c.closed.Load()
}

// envelope is the wire form of a broadcast: the live update plus a unique
// message id and a millisecond timestamp for client-side ordering.
type envelope struct {
	monitor.LiveUpdate
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Hub is the subscriber registry. It is safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*client
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New builds an empty hub. A nil logger discards output.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.With(slog.String("component", "live_hub")),
	}
}

// HandleConnection upgrades an HTTP request to a WebSocket subscription and
// blocks until the peer disconnects. Registration is immediate: the
// subscriber becomes a broadcast target before this method returns control
// to its read loop.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws_upgrade_failed", slog.Any("err", err))
		return
	}
	c := h.register(conn)
	h.readLoop(conn, c)
}

func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn, joined: time.Now()}
	h.mu.Lock()
	h.clients[conn] = c
	count := len(h.clients)
	h.mu.Unlock()

	metrics.SetSubscribers(count)
	h.log.Info("subscriber_connected", slog.Int("subscribers", count))
	return c
}

// unregister removes the subscriber. It is idempotent: repeated calls for the
// same connection are no-ops.
func (h *Hub) unregister(conn *websocket.Conn, c *client) {
	if c.closed.Swap(true) {
		return
	}
	h.mu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	_ = conn.Close()

	metrics.SetSubscribers(count)
	h.log.Info("subscriber_disconnected",
		slog.Int("subscribers", count),
		slog.String("session", time.Since(c.joined).String()),
	)
}

// readLoop drains inbound frames so pongs and close frames are processed.
// Its return is the disconnect notification that removes the subscriber.
func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer h.unregister(conn, c)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Count reports the number of currently registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers the update to every registered subscriber whose
// connection is ready, at most once each. Subscribers that are not ready are
// skipped. A failed send is logged and isolated; it neither aborts delivery
// to the rest nor removes the subscriber. Returns the delivered count.
func (h *Hub) Broadcast(ctx context.Context, update monitor.LiveUpdate) int {
	payload, err := json.Marshal(envelope{
		LiveUpdate: update,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Error("broadcast_marshal_failed", slog.Any("err", err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.ready() {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	select {
	case <-ctx.Done():
		return 0
	default:
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := h.send(c, payload); err != nil {
				h.log.Warn("subscriber_send_failed", slog.Any("err", err))
				return
			}
			delivered.Add(1)
		}(c)
	}
	wg.Wait()

	metrics.IncBroadcast()
	return int(delivered.Load())
}

func (h *Hub) send(c *client, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Run drives the keepalive ping loop until the context is cancelled, then
// closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// pingClients probes every subscriber. A failed ping is left to the read
// loop, which observes the broken connection and performs the removal.
func (h *Hub) pingClients() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.ready() {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.log.Warn("subscriber_ping_failed", slog.Any("err", err))
		}
		c.writeMu.Unlock()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
