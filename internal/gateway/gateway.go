// ABOUTME: Gateway orchestrator that wires auth, hub, webhook, and provider together.
// ABOUTME: Manages the HTTP server lifecycle including graceful shutdown.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/config"
	"github.com/gbelintani2/thunderchat/internal/flows"
	"github.com/gbelintani2/thunderchat/internal/hub"
	"github.com/gbelintani2/thunderchat/internal/provider"
	"github.com/gbelintani2/thunderchat/internal/webhook"
)

// Gateway orchestrates the thunderchat server components. It owns the
// connection hub, the provider client for outbound messages, and the webhook
// handler for inbound delivery, all served from a single HTTP server.
type Gateway struct {
	config     *config.Config
	hub        *hub.Hub
	verifier   *auth.Verifier
	creds      auth.Credentials
	provider   *provider.Client
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway instance from the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	connHub := hub.New(verifier, logger.With("component", "hub"))

	// Credentials saved by a completed Embedded Signup override the static
	// config, so a restart keeps the onboarded number.
	if creds, err := config.LoadCredentials(cfg.WhatsApp.CredentialsPath); err != nil {
		logger.Warn("ignoring saved credentials", "path", cfg.WhatsApp.CredentialsPath, "error", err)
	} else if creds != nil {
		cfg.ApplyCredentials(creds)
		logger.Info("loaded saved credentials", "path", cfg.WhatsApp.CredentialsPath)
	}

	apiBase := cfg.WhatsApp.APIBase
	if apiBase == "" {
		apiBase = provider.DefaultAPIBase
	}
	client := provider.NewClient(apiBase, cfg.WhatsApp.APIVersion, cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID, logger.With("component", "provider"))

	g := &Gateway{
		config:   cfg,
		hub:      connHub,
		verifier: verifier,
		creds: auth.Credentials{
			Username:     cfg.Auth.Username,
			Password:     cfg.Auth.Password,
			PasswordHash: cfg.Auth.PasswordHash,
		},
		provider: client,
		logger:   logger.With("component", "gateway"),
	}

	webhookHandler := webhook.NewHandler(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, connHub, logger.With("component", "webhook"))

	flowsHandler, err := flows.NewHandler(cfg.WhatsApp.FlowsPrivateKey, logger)
	if err != nil {
		return nil, fmt.Errorf("building flows handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/webhook", webhookHandler)
	mux.Handle("/ws", connHub)
	mux.HandleFunc("/api/login", g.handleLogin)
	mux.Handle("/api/send", g.requireToken(http.HandlerFunc(g.handleSend)))
	mux.Handle("/api/flows", flowsHandler)
	mux.HandleFunc("/api/setup/status", g.handleSetupStatus)
	mux.Handle("/api/setup/config", g.requireToken(http.HandlerFunc(g.handleSetupConfig)))
	mux.Handle("/api/setup/complete", g.requireToken(http.HandlerFunc(g.handleSetupComplete)))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Hub exposes the connection hub, mainly for tests and embedding callers.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// Handler returns the HTTP handler serving all gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}

	return g.gracefulShutdown()
}

// gracefulShutdown stops the server with a fresh context since the run
// context is already canceled by the time shutdown begins.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and disconnects all hub clients.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	err := g.httpServer.Shutdown(ctx)
	g.hub.Close()
	return err
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
