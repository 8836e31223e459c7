// ABOUTME: Manages the set of live authenticated client connections.
// ABOUTME: Admits websockets with token auth and broadcasts events best-effort to every live connection.

package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/event"
)

// Close codes sent on rejected admissions. Clients treat both as terminal:
// the session must re-authenticate rather than reconnect.
const (
	StatusNoToken      websocket.StatusCode = 4001
	StatusInvalidToken websocket.StatusCode = 4003
)

// Hub owns all live client connections. Admission, self-removal, and
// broadcast run on independent goroutines; the live set is guarded so a
// broadcast always iterates a consistent snapshot.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// New creates a Hub using the given verifier for admission checks.
func New(verifier auth.TokenVerifier, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:    make(map[string]*Conn),
		verifier: verifier,
		logger:   logger.With("component", "hub"),
	}
}

// ServeHTTP upgrades the request to a websocket and admits it. The socket is
// accepted first so rejections can carry a distinct application close code,
// matching the handshake contract clients key their terminal-auth handling on.
// The handler goroutine owns the connection and removes it on close or error.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		return // Accept already wrote the error response
	}

	token := r.URL.Query().Get("token")
	principal, err := h.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredential) {
			h.logger.Error("connection rejected: no token")
			_ = sock.Close(StatusNoToken, "no token provided")
		} else {
			h.logger.Error("connection rejected: invalid token", "error", err)
			_ = sock.Close(StatusInvalidToken, "invalid token")
		}
		return
	}

	c := newConn(uuid.New().String(), principal, sock, h.logger)
	h.add(c)
	defer h.remove(c)

	// Clients are push-only consumers; reading discards application data but
	// keeps control frames (close/ping/pong) flowing. The returned context
	// ends when the peer disconnects.
	readCtx := sock.CloseRead(r.Context())

	go c.writeLoop()
	go c.keepAliveLoop()

	select {
	case <-readCtx.Done():
	case <-c.ctx.Done():
	}
	c.close(websocket.StatusNormalClosure, "")
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client connected",
		"conn_id", c.ID,
		"principal", c.Principal,
		"total_clients", total,
	)
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	total := len(h.conns)
	h.mu.Unlock()

	c.cancel()
	h.logger.Info("client disconnected",
		"conn_id", c.ID,
		"principal", c.Principal,
		"total_clients", total,
	)
}

// Broadcast delivers the event to every currently live connection,
// at-most-once per connection, best-effort. A slow or broken consumer never
// stalls delivery to the others: the event is dropped for that connection and
// its own error path removes it from the live set.
func (h *Hub) Broadcast(ev *event.Envelope) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(ev) {
			h.logger.Debug("dropped event for slow client", "conn_id", c.ID)
		}
	}

	h.logger.Debug("broadcast", "type", ev.Type, "clients", len(targets))
}

// Len returns the number of currently live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drains all live connections at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
