// ABOUTME: Configuration loading and parsing for the thunderchat gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds login and token configuration.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`      // plain text, dev only
	PasswordHash string `yaml:"password_hash"` // bcrypt hash, preferred

	TokenTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and webhook settings.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIVersion    string `yaml:"api_version"`
	APIBase       string `yaml:"api_base"` // override for testing; defaults to the Graph API
	VerifyToken   string `yaml:"verify_token"`
	AppSecret     string `yaml:"app_secret"`

	// Embedded Signup. Completing signup persists the obtained credentials
	// to credentials_path; they take precedence over the fields above on
	// the next start.
	AppID           string `yaml:"app_id"`
	SignupConfigID  string `yaml:"signup_config_id"`
	BusinessPIN     string `yaml:"business_pin"`
	WABAID          string `yaml:"waba_id"`
	CredentialsPath string `yaml:"credentials_path"`

	// FlowsPrivateKey is the RSA private key (PEM) for the Flows data
	// exchange endpoint. Empty leaves the endpoint unconfigured.
	FlowsPrivateKey string `yaml:"flows_private_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults matching the original relay's environment defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":3000"
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v21.0"
	}
	if c.WhatsApp.BusinessPIN == "" {
		c.WhatsApp.BusinessPIN = "123456"
	}
	if c.WhatsApp.CredentialsPath == "" {
		c.WhatsApp.CredentialsPath = "credentials.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password or auth.password_hash is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
