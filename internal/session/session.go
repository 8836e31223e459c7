// ABOUTME: Client session: owns the live connection lifecycle and reconnect backoff.
// ABOUTME: A single run-loop actor dials, reads events into the handler, and retries transient failures.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gbelintani2/thunderchat/internal/event"
)

// State is the connection lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
	// StateTerminal means the credential was rejected; the session is over
	// and the caller must re-authenticate.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Handler receives every decoded event from the live connection.
// *convo.Store satisfies it.
type Handler interface {
	Apply(*event.Envelope)
}

// Options configures a Session. Zero values take the defaults.
type Options struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// OnStateChange, if set, is invoked from the session's run loop on every
	// state transition (connectivity indicator hook).
	OnStateChange func(State)

	// OnTerminal, if set, is invoked when a credential rejection ends the
	// session (session-expiry handling).
	OnTerminal func(error)

	Logger *slog.Logger
}

// Session maintains one reconnecting connection to the gateway. All lifecycle
// transitions happen on the single Run goroutine, so there is never more than
// one pending reconnect wait or one in-flight connection attempt.
type Session struct {
	dialer  Dialer
	handler Handler
	opts    Options
	backoff *backoff
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Session over the given dialer, delivering events to handler.
func New(dialer Dialer, handler Handler, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		dialer:  dialer,
		handler: handler,
		opts:    opts,
		backoff: newBackoff(opts.ReconnectBase, opts.ReconnectMax),
		logger:  logger.With("component", "session"),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// Run drives the session until the context is cancelled or the credential is
// rejected. Transient failures reconnect with exponential backoff forever;
// credential rejections return immediately with the terminal error.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		s.setState(StateConnecting)
		s.logger.Info("connecting")

		transport, err := s.dialer.Dial(ctx)
		if err == nil {
			s.setState(StateConnected)
			s.logger.Info("connected")
			s.backoff.Reset()
			err = s.readLoop(ctx, transport)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isTerminalAuth(err) {
			s.logger.Error("credential rejected, session over", "error", err)
			s.setState(StateTerminal)
			if s.opts.OnTerminal != nil {
				s.opts.OnTerminal(err)
			}
			return fmt.Errorf("session terminated: %w", err)
		}

		delay := s.backoff.Next()
		s.logger.Info("reconnecting after failure", "delay", delay, "error", err)
		s.setState(StateBackoff)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// readLoop delivers events to the handler until the connection ends. A single
// malformed event is logged and skipped; it never halts the stream.
func (s *Session) readLoop(ctx context.Context, transport Transport) error {
	defer transport.Close()

	for {
		env, err := transport.ReadEvent(ctx)
		if err != nil {
			if errors.Is(err, event.ErrMalformedEvent) {
				s.logger.Warn("dropping malformed event", "error", err)
				continue
			}
			return err
		}
		if err := env.Validate(); err != nil {
			s.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		s.handler.Apply(env)
	}
}
