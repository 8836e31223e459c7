// ABOUTME: Event envelope types relayed from the provider webhook to live clients.
// ABOUTME: Tagged union over "type" with flat JSON fields, plus decode validation.

package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent indicates an envelope that cannot be decoded or is missing
// required fields. Callers log it and drop the single event; processing continues.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope types.
const (
	TypeIncomingMessage = "incoming_message"
	TypeStatusUpdate    = "status_update"
)

// Envelope is the wire format broadcast from the hub to every live client.
// The Type discriminant selects which fields are meaningful:
//
//   - incoming_message: From, Name, MessageID, Timestamp, MessageType, Text
//   - status_update: MessageID, Status, RecipientID, Timestamp
type Envelope struct {
	Type string `json:"type"`

	// incoming_message fields
	From        string `json:"from,omitempty"`
	Name        string `json:"name,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	Text        string `json:"text,omitempty"`

	// status_update fields
	Status      string `json:"status,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`

	// shared fields
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Decode parses raw JSON into an Envelope and validates it.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks that the envelope carries a known type and the identifying
// fields that type requires.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeIncomingMessage:
		if e.From == "" {
			return fmt.Errorf("%w: incoming_message without from", ErrMalformedEvent)
		}
	case TypeStatusUpdate:
		if e.MessageID == "" {
			return fmt.Errorf("%w: status_update without messageId", ErrMalformedEvent)
		}
		if e.Status == "" {
			return fmt.Errorf("%w: status_update without status", ErrMalformedEvent)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}
