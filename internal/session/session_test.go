// ABOUTME: Tests for the session run loop: retry, terminal auth, event dispatch.
// ABOUTME: Uses scripted dialers plus a real websocket round trip against the hub.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/event"
	"github.com/gbelintani2/thunderchat/internal/hub"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*event.Envelope
}

func (r *recordingHandler) Apply(env *event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recordingHandler) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeTransport struct {
	events chan *event.Envelope
	errs   chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan *event.Envelope, 16),
		errs:   make(chan error, 1),
	}
}

func (t *fakeTransport) ReadEvent(ctx context.Context) (*event.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env := <-t.events:
		return env, nil
	case err := <-t.errs:
		return nil, err
	}
}

func (t *fakeTransport) Close() error { return nil }

// scriptedDialer returns each outcome in order, then blocks until ctx ends.
type scriptedDialer struct {
	mu       sync.Mutex
	outcomes []any // error or Transport
	calls    int
}

func (d *scriptedDialer) Dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	d.calls++
	var outcome any
	if len(d.outcomes) > 0 {
		outcome = d.outcomes[0]
		d.outcomes = d.outcomes[1:]
	}
	d.mu.Unlock()

	switch v := outcome.(type) {
	case error:
		return nil, v
	case Transport:
		return v, nil
	default:
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSession_DeliversEventsToHandler(t *testing.T) {
	transport := newFakeTransport()
	transport.events <- &event.Envelope{Type: event.TypeIncomingMessage, From: "1555", Text: "hi"}
	transport.events <- &event.Envelope{Type: "garbage"} // malformed, skipped
	transport.events <- &event.Envelope{Type: event.TypeStatusUpdate, MessageID: "wamid.1", Status: "read"}
	transport.errs <- fmt.Errorf("stream over: %w", auth.ErrInvalidCredential)

	handler := &recordingHandler{}
	dialer := &scriptedDialer{outcomes: []any{Transport(transport)}}
	s := New(dialer, handler, Options{Logger: testLogger(t)})

	err := s.Run(context.Background())
	require.Error(t, err)

	require.Equal(t, 2, handler.len(), "malformed event must be dropped")
	assert.Equal(t, "hi", handler.events[0].Text)
	assert.Equal(t, "read", handler.events[1].Status)
}

func TestSession_TerminalAuthStopsReconnecting(t *testing.T) {
	transport := newFakeTransport()
	transport.errs <- fmt.Errorf("closed: %w", auth.ErrInvalidCredential)

	var terminalErr error
	dialer := &scriptedDialer{outcomes: []any{Transport(transport)}}
	s := New(dialer, &recordingHandler{}, Options{
		Logger:     testLogger(t),
		OnTerminal: func(err error) { terminalErr = err },
	})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	assert.Equal(t, 1, dialer.dialCount(), "terminal rejection must not retry")
	assert.ErrorIs(t, terminalErr, auth.ErrInvalidCredential)
}

func TestSession_TransientFailuresRetryWithBackoff(t *testing.T) {
	transport := newFakeTransport()
	transport.events <- &event.Envelope{Type: event.TypeIncomingMessage, From: "1555", Text: "after retries"}
	transport.errs <- fmt.Errorf("done: %w", auth.ErrNoCredential)

	handler := &recordingHandler{}
	dialer := &scriptedDialer{outcomes: []any{
		errors.New("connection refused"),
		errors.New("connection refused"),
		Transport(transport),
	}}

	var mu sync.Mutex
	var states []State
	s := New(dialer, handler, Options{
		ReconnectBase: time.Millisecond,
		ReconnectMax:  4 * time.Millisecond,
		Logger:        testLogger(t),
		OnStateChange: func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})

	err := s.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 3, dialer.dialCount())
	require.Equal(t, 1, handler.len())
	assert.Equal(t, "after retries", handler.events[0].Text)
	assert.Contains(t, states, StateBackoff)
	assert.Contains(t, states, StateConnected)
}

func TestSession_ContextCancelDuringBackoff(t *testing.T) {
	dialer := &scriptedDialer{outcomes: []any{errors.New("refused")}}
	s := New(dialer, &recordingHandler{}, Options{
		ReconnectBase: time.Hour, // never fires; cancellation must win
		Logger:        testLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on context cancellation")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

// Round trip against the real hub: invalid token closes with 4003 and the
// session treats it as terminal; a valid token receives broadcasts.
func TestSession_AgainstLiveHub(t *testing.T) {
	verifier := auth.NewVerifier([]byte("session-test-secret"), 0)
	h := hub.New(verifier, testLogger(t))
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	t.Run("invalid token is terminal", func(t *testing.T) {
		dialer := &WebsocketDialer{URL: srv.URL, Token: "bogus"}
		s := New(dialer, &recordingHandler{}, Options{Logger: testLogger(t)})

		errCh := make(chan error, 1)
		go func() { errCh <- s.Run(context.Background()) }()

		select {
		case err := <-errCh:
			require.Error(t, err)
			assert.Equal(t, StateTerminal, s.State())
		case <-time.After(10 * time.Second):
			t.Fatal("session did not terminate on auth rejection")
		}
	})

	t.Run("valid token receives broadcasts", func(t *testing.T) {
		token, err := verifier.Issue("admin")
		require.NoError(t, err)

		handler := &recordingHandler{}
		dialer := &WebsocketDialer{URL: srv.URL, Token: token}
		s := New(dialer, handler, Options{Logger: testLogger(t)})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		require.Eventually(t, func() bool { return h.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

		// A malformed frame is dropped on the wire without ending the stream.
		h.Broadcast(&event.Envelope{Type: "bogus"})
		h.Broadcast(&event.Envelope{
			Type:      event.TypeIncomingMessage,
			From:      "15551234567",
			MessageID: "wamid.live",
			Text:      "over the wire",
			Timestamp: 1700000000,
		})

		require.Eventually(t, func() bool { return handler.len() == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, "over the wire", handler.events[0].Text)

		cancel()
		<-done
	})
}
