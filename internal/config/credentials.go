// ABOUTME: Persisted WhatsApp credentials obtained through Embedded Signup.
// ABOUTME: Stored as a small JSON file that overrides the static config on load.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Credentials are the provider credentials Embedded Signup produces. They are
// written once signup completes and applied over the static config on every
// start, so a signup survives restarts without editing the config file.
type Credentials struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
	WABAID        string `json:"waba_id"`
}

// LoadCredentials reads the credentials file at path. A missing file is not
// an error; it returns (nil, nil).
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes the credentials file at path with owner-only
// permissions.
func SaveCredentials(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// ApplyCredentials overlays persisted credentials onto the WhatsApp config.
// Empty fields leave the static values in place.
func (c *Config) ApplyCredentials(creds *Credentials) {
	if creds == nil {
		return
	}
	if creds.AccessToken != "" {
		c.WhatsApp.AccessToken = creds.AccessToken
	}
	if creds.PhoneNumberID != "" {
		c.WhatsApp.PhoneNumberID = creds.PhoneNumberID
	}
	if creds.WABAID != "" {
		c.WhatsApp.WABAID = creds.WABAID
	}
}
