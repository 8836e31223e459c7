// ABOUTME: Embedded Signup endpoints: onboarding status, signup config for the
// ABOUTME: frontend SDK, and completion (code exchange, subscribe, register, persist).

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gbelintani2/thunderchat/internal/config"
)

// SetupStatusResponse reports whether the provider has usable credentials.
type SetupStatusResponse struct {
	Configured bool `json:"configured"`
}

// SetupConfigResponse carries the identifiers the Embedded Signup SDK needs
// to launch the Meta dialog.
type SetupConfigResponse struct {
	AppID    string `json:"appId"`
	ConfigID string `json:"configId"`
}

// SetupCompleteRequest is the JSON request body for POST /api/setup/complete,
// posted by the frontend after the Meta signup dialog finishes.
type SetupCompleteRequest struct {
	Code          string `json:"code"`
	WABAID        string `json:"wabaId"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// handleSetupStatus answers GET /api/setup/status. It is deliberately
// unauthenticated so the frontend can decide whether to show onboarding
// before anyone logs in.
func (g *Gateway) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, SetupStatusResponse{Configured: g.provider.Configured()})
}

// handleSetupConfig answers GET /api/setup/config with the app and signup
// configuration ids, or 500 when the deployment was not set up for signup.
func (g *Gateway) handleSetupConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.config.WhatsApp.AppID == "" || g.config.WhatsApp.SignupConfigID == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "embedded signup not configured on server"})
		return
	}
	writeJSON(w, http.StatusOK, SetupConfigResponse{
		AppID:    g.config.WhatsApp.AppID,
		ConfigID: g.config.WhatsApp.SignupConfigID,
	})
}

// handleSetupComplete finishes Embedded Signup: exchanges the authorization
// code for a business token, subscribes the app to the WABA's webhooks,
// registers the phone number, persists the credentials, and swaps them into
// the live provider client.
func (g *Gateway) handleSetupComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SetupCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Code == "" || req.WABAID == "" || req.PhoneNumberID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code, wabaId and phoneNumberId are required"})
		return
	}

	ctx := r.Context()
	wa := &g.config.WhatsApp

	accessToken, err := g.provider.ExchangeCode(ctx, wa.AppID, wa.AppSecret, req.Code)
	if err != nil {
		g.logger.Error("signup code exchange failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not exchange authorization code"})
		return
	}

	if err := g.provider.SubscribeWebhooks(ctx, req.WABAID, accessToken); err != nil {
		g.logger.Error("signup webhook subscription failed", "waba_id", req.WABAID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not subscribe app to webhooks"})
		return
	}

	// Registration fails for numbers that were already registered, so a
	// failure here does not abort onboarding.
	if err := g.provider.RegisterPhone(ctx, req.PhoneNumberID, accessToken, wa.BusinessPIN); err != nil {
		g.logger.Warn("phone registration failed, continuing", "phone_number_id", req.PhoneNumberID, "error", err)
	}

	creds := &config.Credentials{
		AccessToken:   accessToken,
		PhoneNumberID: req.PhoneNumberID,
		WABAID:        req.WABAID,
	}
	if err := config.SaveCredentials(wa.CredentialsPath, creds); err != nil {
		g.logger.Error("persisting credentials failed", "path", wa.CredentialsPath, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not persist credentials"})
		return
	}

	g.config.ApplyCredentials(creds)
	g.provider.UpdateCredentials(accessToken, req.PhoneNumberID)

	g.logger.Info("embedded signup completed", "waba_id", req.WABAID, "phone_number_id", req.PhoneNumberID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
