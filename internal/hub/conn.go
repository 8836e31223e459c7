// ABOUTME: Represents a single live client connection owned by the Hub.
// ABOUTME: Buffers outbound events through a write loop and keeps the socket alive with pings.

package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gbelintani2/thunderchat/internal/event"
)

const (
	// sendBufferSize is the per-connection outbound event buffer.
	sendBufferSize = 64

	writeTimeout      = 10 * time.Second
	keepAliveInterval = 25 * time.Second
	pingTimeout       = 5 * time.Second
)

// Conn is one live authenticated client connection. It is owned exclusively
// by the Hub; only the admitting handler goroutine removes it from the live set.
type Conn struct {
	ID        string
	Principal string

	sock   *websocket.Conn
	send   chan *event.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func newConn(id, principal string, sock *websocket.Conn, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:        id,
		Principal: principal,
		sock:      sock,
		send:      make(chan *event.Envelope, sendBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// enqueue hands an event to the connection without blocking. Returns false if
// the buffer is full; the event is dropped for this connection only.
func (c *Conn) enqueue(ev *event.Envelope) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// writeLoop drains the send buffer onto the socket. Any write error ends the
// connection; the admitting handler observes the cancellation and removes the
// entry from the live set.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.sock, ev)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing connection",
					"conn_id", c.ID,
					"error", err,
				)
				c.cancel()
				return
			}
		}
	}
}

// keepAliveLoop pings the client periodically so dead peers are detected
// even though the server never reads application data from them.
func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.sock.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

// close ends the connection with the given status.
func (c *Conn) close(status websocket.StatusCode, reason string) {
	c.cancel()
	_ = c.sock.Close(status, reason)
}
