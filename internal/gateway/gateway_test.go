// ABOUTME: Tests for gateway wiring: login, send, health, and webhook-to-socket relay.
// ABOUTME: Runs the full HTTP handler under httptest with a stubbed Graph API.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbelintani2/thunderchat/internal/config"
	"github.com/gbelintani2/thunderchat/internal/event"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

// graphStub is a fake Graph API server. It accepts every send with a fixed
// message id and answers the Embedded Signup endpoints, recording what the
// gateway asked for.
type graphStub struct {
	srv *httptest.Server

	mu           sync.Mutex
	sendAuth     string
	exchangeCode string
	subscribed   string
	registered   string
	registerFail bool
}

func startGraphStub(t *testing.T) *graphStub {
	stub := &graphStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		defer stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/oauth/access_token"):
			stub.exchangeCode = r.URL.Query().Get("code")
			fmt.Fprint(w, `{"access_token":"EAAG.exchanged.token"}`)
		case strings.HasSuffix(r.URL.Path, "/subscribed_apps"):
			stub.subscribed = r.Header.Get("Authorization")
			fmt.Fprint(w, `{"success":true}`)
		case strings.HasSuffix(r.URL.Path, "/register"):
			if stub.registerFail {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"error":{"message":"Incorrect PIN"}}`)
				return
			}
			stub.registered = r.URL.Path
			fmt.Fprint(w, `{"success":true}`)
		default:
			stub.sendAuth = r.Header.Get("Authorization")
			fmt.Fprint(w, `{"messages":[{"id":"wamid.stub.1"}]}`)
		}
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func testConfig(t *testing.T) *config.Config {
	cfg, _ := testConfigWithStub(t)
	return cfg
}

func testConfigWithStub(t *testing.T) (*config.Config, *graphStub) {
	graph := startGraphStub(t)
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Auth.JWTSecret = "gateway-test-secret"
	cfg.Auth.Username = "admin"
	cfg.Auth.Password = "hunter2"
	cfg.WhatsApp.AccessToken = "test-access-token"
	cfg.WhatsApp.PhoneNumberID = "1098765"
	cfg.WhatsApp.APIVersion = "v21.0"
	cfg.WhatsApp.APIBase = graph.srv.URL
	cfg.WhatsApp.VerifyToken = "verify-me"
	cfg.WhatsApp.AppID = "app-123"
	cfg.WhatsApp.SignupConfigID = "signup-cfg-456"
	cfg.WhatsApp.BusinessPIN = "123456"
	cfg.WhatsApp.CredentialsPath = filepath.Join(t.TempDir(), "credentials.json")
	return cfg, graph
}

func startGateway(t *testing.T) (*Gateway, *httptest.Server) {
	return startGatewayWith(t, testConfig(t))
}

func startGatewayWith(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	gw, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(gw.hub.Close)
	return gw, srv
}

func login(t *testing.T, srv *httptest.Server, username, password string) (*http.Response, string) {
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var loginResp LoginResponse
	_ = json.NewDecoder(resp.Body).Decode(&loginResp)
	return resp, loginResp.Token
}

func TestGateway_Health(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_LoginIssuesToken(t *testing.T) {
	_, srv := startGateway(t)

	resp, token := login(t, srv, "admin", "hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, token)
}

func TestGateway_LoginRejectsBadPassword(t *testing.T) {
	_, srv := startGateway(t)

	resp, token := login(t, srv, "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, token)
}

func TestGateway_LoginRejectsGet(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/api/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func postSend(t *testing.T, srv *httptest.Server, token string, req SendMessageRequest) *http.Response {
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/send", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	return resp
}

func TestGateway_SendRequiresToken(t *testing.T) {
	_, srv := startGateway(t)

	resp := postSend(t, srv, "", SendMessageRequest{To: "15551234567", Text: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SendReturnsMessageID(t *testing.T) {
	_, srv := startGateway(t)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSend(t, srv, token, SendMessageRequest{To: "15551234567", Text: "hi"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sendResp SendMessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sendResp))
	assert.Equal(t, "wamid.stub.1", sendResp.MessageID)
}

func TestGateway_SendRejectsEmptyFields(t *testing.T) {
	_, srv := startGateway(t)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSend(t, srv, token, SendMessageRequest{To: "15551234567"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_WebhookVerification(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Full relay path: a websocket client logs in, connects, and receives the
// event produced by a webhook delivery.
func TestGateway_WebhookReachesSocketClient(t *testing.T) {
	gw, srv := startGateway(t)
	_, token := login(t, srv, "admin", "hunter2")

	ctx := context.Background()
	sock, _, err := websocket.Dial(ctx, srv.URL+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer sock.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return gw.hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	delivery := `{
		"entry": [{"changes": [{"field": "messages", "value": {
			"contacts": [{"wa_id": "15551234567", "profile": {"name": "Maria"}}],
			"messages": [{"from": "15551234567", "id": "wamid.hook.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello there"}}]
		}}]}]
	}`
	resp, err := http.Post(srv.URL+"/webhook", "application/json", bytes.NewReader([]byte(delivery)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env event.Envelope
	require.NoError(t, wsjson.Read(ctx, sock, &env))
	assert.Equal(t, event.TypeIncomingMessage, env.Type)
	assert.Equal(t, "15551234567", env.From)
	assert.Equal(t, "Maria", env.Name)
	assert.Equal(t, "hello there", env.Text)
}

func TestGateway_SetupStatus(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/api/setup/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status SetupStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Configured)
}

func TestGateway_SetupStatusUnconfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhatsApp.AccessToken = ""
	cfg.WhatsApp.PhoneNumberID = ""
	_, srv := startGatewayWith(t, cfg)

	resp, err := http.Get(srv.URL + "/api/setup/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status SetupStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Configured)
}

func TestGateway_SetupConfigRequiresToken(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Get(srv.URL + "/api/setup/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SetupConfig(t *testing.T) {
	_, srv := startGateway(t)
	_, token := login(t, srv, "admin", "hunter2")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/setup/config", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfgResp SetupConfigResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfgResp))
	assert.Equal(t, "app-123", cfgResp.AppID)
	assert.Equal(t, "signup-cfg-456", cfgResp.ConfigID)
}

func TestGateway_SetupConfigMissingIDs(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhatsApp.AppID = ""
	_, srv := startGatewayWith(t, cfg)
	_, token := login(t, srv, "admin", "hunter2")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/setup/config", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func postSetupComplete(t *testing.T, srv *httptest.Server, token string, req SetupCompleteRequest) *http.Response {
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/setup/complete", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	return resp
}

func TestGateway_SetupComplete(t *testing.T) {
	cfg, stub := testConfigWithStub(t)
	gw, srv := startGatewayWith(t, cfg)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSetupComplete(t, srv, token, SetupCompleteRequest{
		Code:          "auth-code-1",
		WABAID:        "waba-9",
		PhoneNumberID: "phone-9",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stub.mu.Lock()
	assert.Equal(t, "auth-code-1", stub.exchangeCode)
	assert.Equal(t, "Bearer EAAG.exchanged.token", stub.subscribed)
	assert.Equal(t, "/v21.0/phone-9/register", stub.registered)
	stub.mu.Unlock()

	// Credentials are persisted and survive a restart.
	saved, err := config.LoadCredentials(cfg.WhatsApp.CredentialsPath)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "EAAG.exchanged.token", saved.AccessToken)
	assert.Equal(t, "phone-9", saved.PhoneNumberID)
	assert.Equal(t, "waba-9", saved.WABAID)

	// The live provider now sends with the exchanged credentials.
	sendResp := postSend(t, srv, token, SendMessageRequest{To: "15551234567", Text: "hi"})
	defer sendResp.Body.Close()
	require.Equal(t, http.StatusOK, sendResp.StatusCode)
	stub.mu.Lock()
	assert.Equal(t, "Bearer EAAG.exchanged.token", stub.sendAuth)
	stub.mu.Unlock()

	assert.True(t, gw.provider.Configured())
}

func TestGateway_SetupCompleteRegisterFailureIsNonFatal(t *testing.T) {
	cfg, stub := testConfigWithStub(t)
	stub.mu.Lock()
	stub.registerFail = true
	stub.mu.Unlock()
	_, srv := startGatewayWith(t, cfg)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSetupComplete(t, srv, token, SetupCompleteRequest{
		Code:          "auth-code-1",
		WABAID:        "waba-9",
		PhoneNumberID: "phone-9",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_SetupCompleteRejectsMissingFields(t *testing.T) {
	_, srv := startGateway(t)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSetupComplete(t, srv, token, SetupCompleteRequest{Code: "auth-code-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_SetupCompleteRequiresToken(t *testing.T) {
	_, srv := startGateway(t)

	resp := postSetupComplete(t, srv, "", SetupCompleteRequest{
		Code:          "auth-code-1",
		WABAID:        "waba-9",
		PhoneNumberID: "phone-9",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// Credentials written by a previous signup override the static config when
// the gateway starts.
func TestGateway_LoadsSavedCredentialsOnStart(t *testing.T) {
	cfg, stub := testConfigWithStub(t)
	require.NoError(t, config.SaveCredentials(cfg.WhatsApp.CredentialsPath, &config.Credentials{
		AccessToken:   "saved-token",
		PhoneNumberID: "saved-phone",
	}))

	_, srv := startGatewayWith(t, cfg)
	_, token := login(t, srv, "admin", "hunter2")

	resp := postSend(t, srv, token, SendMessageRequest{To: "15551234567", Text: "hi"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stub.mu.Lock()
	assert.Equal(t, "Bearer saved-token", stub.sendAuth)
	stub.mu.Unlock()
}

// The flows route is mounted even without a private key; it answers 500
// until one is configured.
func TestGateway_FlowsUnconfigured(t *testing.T) {
	_, srv := startGateway(t)

	resp, err := http.Post(srv.URL+"/api/flows", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
