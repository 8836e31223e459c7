// ABOUTME: Encrypted WhatsApp Flows endpoint: RSA-OAEP key unwrap, AES-128-GCM
// ABOUTME: payload decrypt, action dispatch, and encrypted response.

package flows

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const responseIVSize = 12

// Handler serves the Flows data channel. A nil private key leaves the route
// mounted but answering 500, matching the relay's behavior when the key env
// var is absent.
type Handler struct {
	key    *rsa.PrivateKey
	logger *slog.Logger
}

// NewHandler parses the PEM private key and builds the handler. An empty key
// yields an unconfigured handler rather than an error, so deployments without
// Flows still start.
func NewHandler(pemKey string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger.With("component", "flows")}
	if pemKey == "" {
		return h, nil
	}

	key, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parsing flows private key: %w", err)
	}
	h.key = key
	return h, nil
}

// parsePrivateKey accepts PKCS#8 or PKCS#1 PEM. Keys injected through env
// vars often arrive with literal \n sequences, so those are unescaped first.
func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	pemKey = strings.ReplaceAll(pemKey, `\n`, "\n")
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

type flowRequest struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

type flowPayload struct {
	Version   string         `json:"version"`
	Action    string         `json:"action"`
	Screen    string         `json:"screen"`
	Data      map[string]any `json:"data"`
	FlowToken string         `json:"flow_token"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.key == nil {
		h.logger.Error("flows private key not configured")
		writeError(w, http.StatusInternalServerError, "flows endpoint not configured")
		return
	}

	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EncryptedFlowData == "" || req.EncryptedAESKey == "" || req.InitialVector == "" {
		writeError(w, http.StatusBadRequest, "missing encrypted flow data")
		return
	}

	aesKey, payload, err := h.decrypt(req)
	if err != nil {
		h.logger.Error("flow decrypt failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process flow request")
		return
	}

	h.logger.Info("flow request", "action", payload.Action, "screen", payload.Screen)
	response := respond(payload)

	encrypted, iv, err := encryptResponse(aesKey, response)
	if err != nil {
		h.logger.Error("flow encrypt failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process flow request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"encrypted_flow_data": encrypted,
		"initial_vector":      iv,
	})
}

// decrypt unwraps the AES key and opens the payload. The auth tag arrives
// appended to the ciphertext, which is the layout gcm.Open expects.
func (h *Handler) decrypt(req flowRequest) ([]byte, *flowPayload, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding aes key: %w", err)
	}
	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, h.key, wrappedKey, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping aes key: %w", err)
	}

	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding flow data: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, nil, fmt.Errorf("building gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening flow data: %w", err)
	}

	var payload flowPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, nil, fmt.Errorf("decoding flow payload: %w", err)
	}
	return aesKey, &payload, nil
}

func encryptResponse(aesKey []byte, response map[string]any) (data, iv string, err error) {
	plaintext, err := json.Marshal(response)
	if err != nil {
		return "", "", fmt.Errorf("encoding response: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", "", fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("building gcm: %w", err)
	}

	nonce := make([]byte, responseIVSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("generating iv: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

const welcomeMessage = "Welcome to ThunderChat! How can we help you?"

// respond dispatches on the flow action. Unknown actions (including BACK)
// return to the welcome screen.
func respond(p *flowPayload) map[string]any {
	switch p.Action {
	case "ping":
		return map[string]any{
			"version": p.Version,
			"data":    map[string]any{"status": "active"},
		}
	case "data_exchange":
		params := map[string]any{"flow_token": p.FlowToken}
		for k, v := range p.Data {
			params[k] = v
		}
		return map[string]any{
			"version": p.Version,
			"screen":  "SUCCESS",
			"data": map[string]any{
				"extension_message_response": map[string]any{"params": params},
			},
		}
	default: // INIT, BACK, or anything unexpected
		return map[string]any{
			"version": p.Version,
			"screen":  "WELCOME",
			"data":    map[string]any{"welcome_message": welcomeMessage},
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
