// ABOUTME: Outbound send client for the WhatsApp Cloud API (Graph API messages endpoint).
// ABOUTME: Returns the provider-assigned message id or a structured SendError.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultAPIBase is the Graph API origin used when no override is configured.
const DefaultAPIBase = "https://graph.facebook.com"

// SendError carries the upstream failure for a rejected send. The core only
// surfaces it as a failed message status; it is never auto-retried.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("whatsapp send failed (status %d): %s", e.StatusCode, e.Message)
}

// Client sends text messages through the Cloud API. Credentials are mutable
// because Embedded Signup can replace them while the server is running.
type Client struct {
	httpClient *http.Client
	base       string
	version    string
	logger     *slog.Logger

	mu            sync.RWMutex
	accessToken   string
	phoneNumberID string
}

// NewClient creates a Cloud API client. base may be empty to use the real
// Graph API origin.
func NewClient(base, version, accessToken, phoneNumberID string, logger *slog.Logger) *Client {
	if base == "" {
		base = DefaultAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		base:          base,
		version:       version,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		logger:        logger.With("component", "provider"),
	}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// UpdateCredentials swaps in new provider credentials, typically the result
// of a completed Embedded Signup.
func (c *Client) UpdateCredentials(accessToken, phoneNumberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.phoneNumberID = phoneNumberID
}

// Configured reports whether the client holds the credentials it needs to
// send messages.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != "" && c.phoneNumberID != ""
}

func (c *Client) credentials() (accessToken, phoneNumberID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.phoneNumberID
}

// Send posts a text message and returns the assigned message id.
func (c *Client) Send(ctx context.Context, to, text string) (string, error) {
	accessToken, phoneNumberID := c.credentials()
	url := fmt.Sprintf("%s/%s/%s/messages", c.base, c.version, phoneNumberID)

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", fmt.Errorf("encoding send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "unknown error"
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		c.logger.Error("provider rejected send", "status", resp.StatusCode, "error", msg)
		return "", &SendError{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		return "", &SendError{StatusCode: resp.StatusCode, Message: "response missing message id"}
	}

	id := decoded.Messages[0].ID
	c.logger.Debug("message sent", "to", to, "message_id", id)
	return id, nil
}
