// Package hub owns the set of connected UI clients and broadcasts
// advisory results to them. Clients can pause and resume broadcasting
// without affecting ingestion upstream.
package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 10 * time.Second
	pongTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second

	// A connection is dead if nothing arrives within a full
	// ping/pong round trip.
	readDeadline = pingInterval + pongTimeout
)

type client struct {
	conn   *websocket.Conn
	remote string

	// gorilla permits one concurrent writer per connection.
	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

type Hub struct {
	logger  *log.Logger
	statsFn func() any

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	paused  bool

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup

	shutdownOnce sync.Once
}

// New builds a hub. statsFn supplies the payload for GET /stats and
// may be nil.
func New(statsFn func() any, logger *log.Logger) *Hub {
	return &Hub{
		logger:  logger,
		statsFn: statsFn,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start binds the listener and begins serving. It returns once the
// endpoint accepts connections, so callers can bring the hub up
// before data flows.
func (h *Hub) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.listener = listener
	h.server = &http.Server{Handler: h.routes()}
	h.mu.Unlock()

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("hub server", "error", err)
		}
	}()

	h.logger.Info("hub listening", "url", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr is the bound listen address, useful when started on port 0.
// It is empty until Start has succeeded.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, remote: conn.RemoteAddr().String()}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "remote", c.remote, "total", total)

	if err := c.send(h.statusMessage()); err != nil {
		h.drop(c)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(c, stop)

	h.readLoop(c)
	h.drop(c)
}

// pingLoop keeps half-open sockets from lingering: clients that miss
// a pong within the timeout window get dropped by the read deadline.
func (h *Hub) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(pongTimeout),
			)
			if err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("client read failed", "remote", c.remote, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed client message", "remote", c.remote, "error", err)
			continue
		}

		switch msg.Type {
		case TypePing:
			if err := c.send(PongMessage{Type: TypePong, Timestamp: nowMillis()}); err != nil {
				return
			}
		case TypePause:
			h.setPaused(true)
		case TypeResume:
			h.setPaused(false)
		default:
			h.logger.Warn("unknown client message", "remote", c.remote, "type", msg.Type)
		}
	}
}

// Broadcast sends an advisory result to every connected client. A
// silent no-op when paused or when nobody is connected. Clients whose
// send fails are removed before Broadcast returns.
func (h *Hub) Broadcast(text string) {
	h.mu.Lock()
	if h.paused || len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	targets := h.snapshotLocked()
	h.mu.Unlock()

	msg := AdvisorMessage{
		Type:      TypeAdvisorKeywords,
		Text:      text,
		Timestamp: nowMillis(),
	}

	delivered := 0
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Warn("send failed, dropping client", "remote", c.remote, "error", err)
			h.drop(c)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		h.logger.Info("advisory broadcast", "clients", delivered)
	}
}

// setPaused flips the hub-wide pause flag and notifies every client.
// Status frames go out even while paused; only advisory broadcasts
// are suppressed.
func (h *Hub) setPaused(paused bool) {
	h.mu.Lock()
	h.paused = paused
	targets := h.snapshotLocked()
	h.mu.Unlock()

	if paused {
		h.logger.Info("broadcasting paused by client")
	} else {
		h.logger.Info("broadcasting resumed by client")
	}

	status := h.statusMessage()
	for _, c := range targets {
		if err := c.send(status); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) statusMessage() StatusMessage {
	return StatusMessage{
		Type:      TypeStatus,
		Status:    "connected",
		Paused:    h.Paused(),
		Timestamp: nowMillis(),
	}
}

func (h *Hub) snapshotLocked() []*client {
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	c.conn.Close()
	if present {
		h.logger.Info("client removed", "remote", c.remote, "total", total)
	}
}

// Shutdown closes the listener, tells clients goodbye, and waits for
// connection loops to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		server := h.server
		h.mu.Unlock()
		if server != nil {
			server.Shutdown(ctx)
		}

		h.mu.Lock()
		targets := h.snapshotLocked()
		h.mu.Unlock()

		goodbye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		for _, c := range targets {
			c.conn.WriteControl(websocket.CloseMessage, goodbye, time.Now().Add(writeTimeout))
			h.drop(c)
		}

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}

		h.logger.Info("hub stopped")
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
