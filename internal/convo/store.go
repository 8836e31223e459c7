// ABOUTME: Local conversation store: optimistic sends and reconciliation of inbound events.
// ABOUTME: In-memory state is authoritative; snapshot persistence is best-effort and advisory.

package convo

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gbelintani2/thunderchat/internal/event"
)

// Direction marks whether a message was sent by this client or received.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is one entry in a conversation. MessageID is empty until the
// provider assigns one; Status is set only on sent messages.
type Message struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp int64     `json:"timestamp"`
	MessageID string    `json:"messageId,omitempty"`
	Status    Status    `json:"status,omitempty"`
}

// Conversation is the ordered message history with one counterpart.
// Insertion order is the authoritative display order.
type Conversation struct {
	Name     string     `json:"name"`
	Messages []*Message `json:"messages"`
	Unread   int        `json:"unread"`
}

// Sender is the outbound send collaborator. The store only consumes its
// result to bind an id and settle one message's status.
type Sender interface {
	Send(ctx context.Context, to, text string) (messageID string, err error)
}

// Store holds all conversations for one client identity, keyed by counterpart
// id. Sends are optimistic; inbound events and status updates are reconciled
// against the persisted history.
type Store struct {
	mu            sync.Mutex
	identity      string
	conversations map[string]*Conversation
	active        string

	sender    Sender
	snapshots Snapshots
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a Store for the given client identity and loads its
// snapshot. Absent or unreadable data degrades to an empty store.
func NewStore(identity string, sender Sender, snapshots Snapshots, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		identity:      identity,
		conversations: make(map[string]*Conversation),
		sender:        sender,
		snapshots:     snapshots,
		logger:        logger.With("component", "convo"),
		now:           time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.snapshots == nil {
		return
	}
	data, err := s.snapshots.Load(s.identity)
	if err != nil {
		s.logger.Warn("failed to load conversations, starting empty", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var conversations map[string]*Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		s.logger.Warn("unreadable conversation snapshot, starting empty", "error", err)
		return
	}
	s.conversations = conversations
}

// persistLocked saves a snapshot. Failures are logged only; the in-memory
// state stays authoritative for the session.
func (s *Store) persistLocked() {
	if s.snapshots == nil {
		return
	}
	data, err := json.Marshal(s.conversations)
	if err != nil {
		s.logger.Error("failed to encode conversations", "error", err)
		return
	}
	if err := s.snapshots.Save(s.identity, data); err != nil {
		s.logger.Error("failed to save conversations", "error", err)
	}
}

func (s *Store) getOrCreateLocked(counterpart string) *Conversation {
	conv, ok := s.conversations[counterpart]
	if !ok {
		conv = &Conversation{Name: counterpart}
		s.conversations[counterpart] = conv
	}
	return conv
}

// Send appends an optimistic pending message, invokes the outbound send, and
// settles the message to sent (binding the provider id) or failed. The send
// error is returned alongside a copy of the final message; a failed message
// stays failed until an explicit user-initiated resend.
func (s *Store) Send(ctx context.Context, counterpart, text string) (Message, error) {
	msg := &Message{
		Direction: DirectionSent,
		Text:      text,
		Timestamp: s.now().Unix(),
		Status:    StatusPending,
	}

	s.mu.Lock()
	conv := s.getOrCreateLocked(counterpart)
	conv.Messages = append(conv.Messages, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("sending message", "to", counterpart)
	id, err := s.sender.Send(ctx, counterpart, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Error("send failed", "to", counterpart, "error", err)
		s.settleLocked(msg, StatusFailed, "")
	} else {
		s.settleLocked(msg, StatusSent, id)
	}
	s.persistLocked()
	return *msg, err
}

// settleLocked resolves an optimistic send through the status machine. A
// message that already left pending keeps its state; the stale settle is a
// no-op rather than an overwrite.
func (s *Store) settleLocked(msg *Message, to Status, id string) {
	if !CanTransition(msg.Status, to) {
		s.logger.Warn("skipping send settle",
			"from", msg.Status,
			"to", to,
		)
		return
	}
	msg.Status = to
	if id != "" {
		msg.MessageID = id
	}
}

// Apply reconciles one inbound envelope. Malformed or unknown events are
// logged and dropped; processing of subsequent events is unaffected.
func (s *Store) Apply(env *event.Envelope) {
	if err := env.Validate(); err != nil {
		s.logger.Warn("dropping malformed event", "error", err)
		return
	}

	switch env.Type {
	case event.TypeIncomingMessage:
		s.applyIncoming(env)
	case event.TypeStatusUpdate:
		s.applyStatus(env)
	}
}

func (s *Store) applyIncoming(env *event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreateLocked(env.From)
	if env.Name != "" && env.Name != env.From && env.Name != conv.Name {
		conv.Name = env.Name
	}
	conv.Messages = append(conv.Messages, &Message{
		Direction: DirectionReceived,
		Text:      env.Text,
		Timestamp: env.Timestamp,
		MessageID: env.MessageID,
	})
	if env.From != s.active {
		conv.Unread++
	}
	s.persistLocked()
}

func (s *Store) applyStatus(env *event.Envelope) {
	status := Status(env.Status)
	if !status.Valid() {
		s.logger.Warn("dropping status update with unknown status", "status", env.Status)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findByMessageIDLocked(env.MessageID)
	if msg == nil {
		// Expected during gaps while disconnected: the optimistic record the
		// status refers to may have been sent from another session.
		s.logger.Debug("unmatched status update", "message_id", env.MessageID)
		return
	}

	// Last-write-wins: provider delivery-event ordering is not guaranteed.
	msg.Status = status
	s.persistLocked()
}

// findByMessageIDLocked scans all conversations for the sent message with the
// bound id. Linear scan; fine at this scale and replaceable by an id index
// without changing the contract.
func (s *Store) findByMessageIDLocked(id string) *Message {
	for _, conv := range s.conversations {
		for _, msg := range conv.Messages {
			if msg.Direction == DirectionSent && msg.MessageID == id {
				return msg
			}
		}
	}
	return nil
}

// Activate marks the conversation active and resets its unread count.
func (s *Store) Activate(counterpart string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreateLocked(counterpart)
	conv.Unread = 0
	s.active = counterpart
	s.persistLocked()
}

// Deactivate clears the active conversation; subsequent inbound messages
// count as unread again.
func (s *Store) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
}

// Active returns the currently active counterpart id, or empty.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Conversation returns a copy of the conversation for the counterpart.
func (s *Store) Conversation(counterpart string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[counterpart]
	if !ok {
		return Conversation{}, false
	}
	out := Conversation{Name: conv.Name, Unread: conv.Unread, Messages: make([]*Message, len(conv.Messages))}
	for i, msg := range conv.Messages {
		copied := *msg
		out.Messages[i] = &copied
	}
	return out, true
}

// Counterparts lists counterpart ids ordered by most recent message first,
// the sidebar ordering of the original client.
func (s *Store) Counterparts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	lastTS := func(id string) int64 {
		msgs := s.conversations[id].Messages
		if len(msgs) == 0 {
			return 0
		}
		return msgs[len(msgs)-1].Timestamp
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := lastTS(ids[i]), lastTS(ids[j])
		if ti != tj {
			return ti > tj
		}
		return ids[i] < ids[j]
	})
	return ids
}
