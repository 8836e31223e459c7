// ABOUTME: HTTP API handlers for login and outbound message sending.
// ABOUTME: Provides POST /api/login and the token-guarded POST /api/send.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gbelintani2/thunderchat/internal/auth"
	"github.com/gbelintani2/thunderchat/internal/provider"
)

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// SendMessageRequest is the JSON request body for POST /api/send.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessageResponse is the JSON response for POST /api/send. MessageID is
// the provider-assigned identifier for the accepted message.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleLogin handles POST /api/login requests. Valid credentials receive a
// signed token for the websocket and API endpoints.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := auth.CheckLogin(g.creds, req.Username, req.Password); err != nil {
		g.logger.Warn("login rejected", "username", req.Username)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	token, err := g.verifier.Issue(req.Username)
	if err != nil {
		g.logger.Error("issuing token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not issue token"})
		return
	}

	g.logger.Info("login succeeded", "username", req.Username)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// requireToken wraps a handler with bearer token verification.
func (g *Gateway) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if _, err := g.verifier.Verify(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// handleSend handles POST /api/send requests. The message is submitted to the
// provider and the provider-assigned message id returned to the caller.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.To == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to and text are required"})
		return
	}

	messageID, err := g.provider.Send(r.Context(), req.To, req.Text)
	if err != nil {
		g.logger.Error("provider send failed", "to", req.To, "error", err)
		var sendErr *provider.SendError
		if errors.As(err, &sendErr) && sendErr.StatusCode >= 400 && sendErr.StatusCode < 500 {
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: sendErr.Message})
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "message delivery failed"})
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{MessageID: messageID})
}
