// ABOUTME: Embedded Signup calls against the Graph API: code exchange, webhook
// ABOUTME: subscription, and phone number registration.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type graphResult struct {
	AccessToken string `json:"access_token"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func decodeGraph(resp *http.Response) (*graphResult, error) {
	var decoded graphResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding graph response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "unknown error"
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, &SendError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &decoded, nil
}

// ExchangeCode trades an Embedded Signup authorization code for a business
// access token.
func (c *Client) ExchangeCode(ctx context.Context, appID, appSecret, code string) (string, error) {
	q := url.Values{}
	q.Set("client_id", appID)
	q.Set("client_secret", appSecret)
	q.Set("code", code)
	target := fmt.Sprintf("%s/%s/oauth/access_token?%s", c.base, c.version, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("creating token exchange request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchanging code: %w", err)
	}
	defer resp.Body.Close()

	decoded, err := decodeGraph(resp)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("token exchange: response missing access token")
	}
	return decoded.AccessToken, nil
}

// SubscribeWebhooks subscribes the app to the WhatsApp Business Account's
// webhooks so deliveries start flowing.
func (c *Client) SubscribeWebhooks(ctx context.Context, wabaID, accessToken string) error {
	target := fmt.Sprintf("%s/%s/%s/subscribed_apps", c.base, c.version, wabaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("creating subscribe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribing webhooks: %w", err)
	}
	defer resp.Body.Close()

	if _, err := decodeGraph(resp); err != nil {
		return fmt.Errorf("webhook subscription: %w", err)
	}
	return nil
}

// RegisterPhone registers the phone number for Cloud API messaging with the
// business two-step PIN.
func (c *Client) RegisterPhone(ctx context.Context, phoneNumberID, accessToken, pin string) error {
	target := fmt.Sprintf("%s/%s/%s/register", c.base, c.version, phoneNumberID)

	body, err := json.Marshal(map[string]string{
		"messaging_product": "whatsapp",
		"pin":               pin,
	})
	if err != nil {
		return fmt.Errorf("encoding register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating register request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering phone: %w", err)
	}
	defer resp.Body.Close()

	if _, err := decodeGraph(resp); err != nil {
		return fmt.Errorf("phone registration: %w", err)
	}
	return nil
}
