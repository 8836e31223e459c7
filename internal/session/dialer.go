// ABOUTME: Transport abstraction and the websocket dialer for gateway sessions.
// ABOUTME: Maps the gateway's auth close codes onto the terminal credential errors.

package session

import (
	"context"
	"errors"
	"net/url"

	"github.com/coder/websocket"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/event"
)

// Transport is one live connection to the gateway. ReadEvent blocks until an
// event arrives or the connection ends.
type Transport interface {
	ReadEvent(ctx context.Context) (*event.Envelope, error)
	Close() error
}

// Dialer opens a transport connection carrying the session credential.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebsocketDialer connects to the gateway's /ws endpoint with a bearer token
// in the query string (browser websockets cannot set headers, so the server
// reads ?token=).
type WebsocketDialer struct {
	// URL is the gateway base URL, e.g. "ws://localhost:3000" or the
	// corresponding http:// form.
	URL   string
	Token string
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Transport, error) {
	target := d.URL + "/ws?token=" + url.QueryEscape(d.Token)
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadEvent(ctx context.Context) (*event.Envelope, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return event.Decode(data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// Close codes the gateway uses to reject admission. Both mean the credential
// itself is bad: reconnecting cannot help.
const (
	closeNoToken      websocket.StatusCode = 4001
	closeInvalidToken websocket.StatusCode = 4003
)

// isTerminalAuth reports whether the connection ended because of a credential
// rejection rather than a transient failure.
func isTerminalAuth(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, auth.ErrNoCredential) || errors.Is(err, auth.ErrInvalidCredential) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case closeNoToken, closeInvalidToken:
		return true
	}
	return false
}
