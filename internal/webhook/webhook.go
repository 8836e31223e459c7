// ABOUTME: WhatsApp Cloud API webhook endpoint: verification handshake, signature check, event normalization.
// ABOUTME: Normalized envelopes are handed to the hub for broadcast to live clients.

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gbelintani2/thunderchat/internal/event"
)

// Broadcaster is the hub-facing side of the normalizer.
type Broadcaster interface {
	Broadcast(*event.Envelope)
}

// Handler terminates provider callbacks. GET serves the Meta verification
// handshake; POST validates the payload signature and broadcasts the
// normalized events.
type Handler struct {
	verifyToken string
	appSecret   string
	hub         Broadcaster
	logger      *slog.Logger
}

// NewHandler creates a webhook handler. An empty appSecret disables signature
// validation (logged as a warning on every delivery, as the original relay does).
func NewHandler(verifyToken, appSecret string, hub Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		hub:         hub,
		logger:      logger.With("component", "webhook"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the hub.challenge handshake Meta sends when the
// webhook subscription is created.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		h.logger.Info("webhook verification successful")
		fmt.Fprint(w, challenge)
		return
	}

	h.logger.Error("webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	envs, err := Normalize(body)
	if err != nil {
		// A single malformed delivery never halts processing; Meta retries
		// on non-200 so acknowledge and move on.
		h.logger.Error("dropping malformed webhook payload", "error", err)
		fmt.Fprint(w, "OK")
		return
	}

	for _, env := range envs {
		h.logger.Info("broadcasting webhook event",
			"type", env.Type,
			"message_id", env.MessageID,
		)
		h.hub.Broadcast(env)
	}

	fmt.Fprint(w, "OK")
}

// validSignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body keyed with the app secret.
func (h *Handler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" {
		h.logger.Warn("app secret not set, skipping signature validation")
		return true
	}
	if header == "" {
		h.logger.Error("no signature header present")
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(header), []byte(expected)) {
		h.logger.Error("signature mismatch")
		return false
	}
	return true
}

// Cloud API webhook payload shapes, trimmed to the fields the relay consumes.
type payload struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []contact  `json:"contacts"`
				Messages []message  `json:"messages"`
				Statuses []statusUp `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

type statusUp struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
	Timestamp   string `json:"timestamp"`
}

// Normalize converts a raw Cloud API webhook body into event envelopes.
// Only "messages" field changes are considered; everything else is skipped.
func Normalize(body []byte) ([]*event.Envelope, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", event.ErrMalformedEvent, err)
	}

	var envs []*event.Envelope
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value

			for _, msg := range value.Messages {
				name := msg.From
				if len(value.Contacts) > 0 && value.Contacts[0].Profile.Name != "" {
					name = value.Contacts[0].Profile.Name
				}
				text := ""
				if msg.Text != nil {
					text = msg.Text.Body
				}
				envs = append(envs, &event.Envelope{
					Type:        event.TypeIncomingMessage,
					From:        msg.From,
					Name:        name,
					MessageID:   msg.ID,
					Timestamp:   parseUnix(msg.Timestamp),
					MessageType: msg.Type,
					Text:        text,
				})
			}

			for _, st := range value.Statuses {
				envs = append(envs, &event.Envelope{
					Type:        event.TypeStatusUpdate,
					MessageID:   st.ID,
					Status:      st.Status,
					RecipientID: st.RecipientID,
					Timestamp:   parseUnix(st.Timestamp),
				})
			}
		}
	}

	return envs, nil
}

// parseUnix converts the provider's string timestamps to unix seconds.
// Unparseable values degrade to zero rather than dropping the event.
func parseUnix(s string) int64 {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
