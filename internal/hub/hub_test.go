// ABOUTME: Tests for hub admission, rejection close codes, self-removal, and broadcast reach.
// ABOUTME: Uses an httptest server with real websocket clients.

package hub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/event"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()

	verifier := auth.NewVerifier([]byte("hub-test-secret"), 0)
	token, err := verifier.Issue("admin")
	require.NoError(t, err)

	h := New(verifier, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})

	return h, srv, token
}

// testWriter routes log output through t.Log so failures stay readable.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := srv.URL + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_AdmissionAndRemovalArithmetic(t *testing.T) {
	h, srv, token := newTestHub(t)

	conns := make([]*websocket.Conn, 0, 3)
	for i := 0; i < 3; i++ {
		conns = append(conns, dial(t, srv, token))
	}

	require.Eventually(t, func() bool { return h.Len() == 3 }, 2*time.Second, 10*time.Millisecond)

	// Two removals: connections remove themselves on close.
	require.NoError(t, conns[0].Close(websocket.StatusNormalClosure, ""))
	require.NoError(t, conns[1].Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conns[2].Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesOnlyLiveConnections(t *testing.T) {
	h, srv, token := newTestHub(t)

	stay := dial(t, srv, token)
	defer stay.Close(websocket.StatusNormalClosure, "")
	leave := dial(t, srv, token)

	require.Eventually(t, func() bool { return h.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, leave.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(&event.Envelope{
		Type:      event.TypeIncomingMessage,
		From:      "15551234567",
		Name:      "Ada",
		MessageID: "wamid.bcast",
		Timestamp: 1700000000,
		Text:      "hello",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got event.Envelope
	require.NoError(t, wsjson.Read(ctx, stay, &got))
	assert.Equal(t, event.TypeIncomingMessage, got.Type)
	assert.Equal(t, "wamid.bcast", got.MessageID)
	assert.Equal(t, "15551234567", got.From)
}

func TestHub_AllLiveConnectionsReceiveBroadcast(t *testing.T) {
	h, srv, token := newTestHub(t)

	a := dial(t, srv, token)
	defer a.Close(websocket.StatusNormalClosure, "")
	b := dial(t, srv, token)
	defer b.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(&event.Envelope{
		Type:      event.TypeStatusUpdate,
		MessageID: "wamid.status",
		Status:    "delivered",
		Timestamp: 1700000001,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var got event.Envelope
		err := wsjson.Read(ctx, conn, &got)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "delivered", got.Status)
	}
}

func TestHub_RejectsMissingTokenWithCode4001(t *testing.T) {
	_, srv, _ := newTestHub(t)

	conn := dial(t, srv, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got event.Envelope
	err := wsjson.Read(ctx, conn, &got)
	require.Error(t, err)
	assert.Equal(t, StatusNoToken, websocket.CloseStatus(err))
}

func TestHub_RejectsInvalidTokenWithCode4003(t *testing.T) {
	_, srv, _ := newTestHub(t)

	conn := dial(t, srv, "bogus-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got event.Envelope
	err := wsjson.Read(ctx, conn, &got)
	require.Error(t, err)
	assert.Equal(t, StatusInvalidToken, websocket.CloseStatus(err))
}

func TestHub_BroadcastWithNoClients(t *testing.T) {
	verifier := auth.NewVerifier([]byte("hub-test-secret"), 0)
	h := New(verifier, nil)
	defer h.Close()

	// Must not panic or block.
	h.Broadcast(&event.Envelope{Type: event.TypeIncomingMessage, From: "1555"})
	assert.Equal(t, 0, h.Len())
}

// A connection whose buffer is full has the event dropped for it alone; the
// broadcast neither blocks nor skips the healthy connections.
func TestHub_StalledConnectionDoesNotStallBroadcast(t *testing.T) {
	h, srv, token := newTestHub(t)

	live := dial(t, srv, token)
	defer live.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A raw accepted socket whose write loop never runs stands in for a
	// consumer that stopped draining.
	accepted := make(chan *websocket.Conn, 1)
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- sock
	}))
	t.Cleanup(raw.Close)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDial()
	peer, _, err := websocket.Dial(dialCtx, raw.URL, nil)
	require.NoError(t, err)
	defer peer.Close(websocket.StatusNormalClosure, "")

	stalled := newConn("stalled", "admin", <-accepted, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, stalled.enqueue(&event.Envelope{Type: event.TypeStatusUpdate, MessageID: "wamid.fill", Status: "delivered"}))
	}
	require.False(t, stalled.enqueue(&event.Envelope{Type: event.TypeStatusUpdate, MessageID: "wamid.over", Status: "delivered"}),
		"a full buffer must drop, not block")

	h.add(stalled)
	require.Equal(t, 2, h.Len())

	done := make(chan struct{})
	go func() {
		h.Broadcast(&event.Envelope{
			Type: event.TypeIncomingMessage,
			From: "15551234567",
			Text: "through",
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a stalled connection")
	}

	readCtx, cancelRead := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRead()
	var got event.Envelope
	require.NoError(t, wsjson.Read(readCtx, live, &got))
	assert.Equal(t, "through", got.Text)

	// Dropped for the stalled connection only: its buffer never grew.
	assert.Len(t, stalled.send, sendBufferSize)
}
