// Package trustapi exposes the key exchange and hybrid encryption routes.
package trustapi

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/trust"
)

// Encrypted payloads are base64 over RSA-wrapped key material plus the
// ciphertext; 4 MiB leaves ample headroom for any realistic exchange.
const maxBodyBytes = 4 << 20

// Handler wires the security endpoints to a Keyring.
type Handler struct {
	log     *slog.Logger
	keyring *trust.Keyring
}

// NewHandler constructs a trust Handler.
func NewHandler(log *slog.Logger, keyring *trust.Keyring) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if keyring == nil {
		return nil, errors.New("trustapi: nil keyring")
	}
	return &Handler{log: log, keyring: keyring}, nil
}

// Register wires security routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/security/server-public-key", h.handleServerPublicKey)
	mux.HandleFunc("/security/register-client-key", h.handleRegisterClientKey)
	mux.HandleFunc("/security/decrypt-echo", h.handleDecryptEcho)
	mux.HandleFunc("/security/encrypt-for-client", h.handleEncryptForClient)
}

type serverPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type registerClientKeyRequest struct {
	ClientID  string `json:"clientId"`
	PublicKey string `json:"publicKey"`
}

type registerClientKeyResponse struct {
	ClientID string `json:"clientId"`
}

type encryptedEnvelope struct {
	EncryptedKeyBlock string `json:"encryptedKeyBlock"`
	CipherData        string `json:"cipherData"`
}

type decryptEchoResponse struct {
	Plaintext string `json:"plaintext"`
}

type encryptForClientRequest struct {
	ClientID  string `json:"clientId"`
	Plaintext string `json:"plaintext"`
}

// ---- handlers ----

func (h *Handler) handleServerPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	api.WriteData(w, http.StatusOK, serverPublicKeyResponse{
		PublicKey: h.keyring.ServerPublicKeyBase64(),
	})
}

func (h *Handler) handleRegisterClientKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerClientKeyRequest
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" || strings.TrimSpace(req.PublicKey) == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "clientId and publicKey are required")
		return
	}

	if err := h.keyring.RegisterClientKey(clientID, req.PublicKey); err != nil {
		if errors.Is(err, trust.ErrInvalidKey) {
			api.WriteError(w, http.StatusBadRequest, "invalid_key", "public key is not a valid RSA key")
			return
		}
		h.log.Error("trust.register_key.fail", "err", err, "client_id", clientID)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("trust.client_key.registered", "client_id", clientID)
	api.WriteData(w, http.StatusOK, registerClientKeyResponse{ClientID: clientID})
}

func (h *Handler) handleDecryptEcho(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req encryptedEnvelope
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	env, err := decodeEnvelope(req)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "encryptedKeyBlock and cipherData must be base64")
		return
	}

	plaintext, err := h.keyring.DecryptFromClient(env)
	if err != nil {
		// Single opaque failure: unwrap and integrity errors read the same.
		api.WriteError(w, http.StatusBadRequest, "decryption_failed", "decryption failed")
		return
	}

	api.WriteData(w, http.StatusOK, decryptEchoResponse{Plaintext: string(plaintext)})
}

func (h *Handler) handleEncryptForClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req encryptForClientRequest
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "clientId is required")
		return
	}

	env, err := h.keyring.EncryptForClient(clientID, []byte(req.Plaintext))
	if err != nil {
		if errors.Is(err, trust.ErrUnknownClient) {
			api.WriteError(w, http.StatusNotFound, "unknown_client", "no public key registered for clientId")
			return
		}
		h.log.Error("trust.encrypt.fail", "err", err, "client_id", clientID)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	api.WriteData(w, http.StatusOK, encodeEnvelope(env))
}

// ---- wire codec ----

func decodeEnvelope(req encryptedEnvelope) (trust.Envelope, error) {
	keyBlock, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.EncryptedKeyBlock))
	if err != nil {
		return trust.Envelope{}, err
	}
	cipherData, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.CipherData))
	if err != nil {
		return trust.Envelope{}, err
	}
	if len(keyBlock) == 0 || len(cipherData) == 0 {
		return trust.Envelope{}, errors.New("empty envelope field")
	}
	return trust.Envelope{EncryptedKeyBlock: keyBlock, CipherData: cipherData}, nil
}

func encodeEnvelope(env trust.Envelope) encryptedEnvelope {
	return encryptedEnvelope{
		EncryptedKeyBlock: base64.StdEncoding.EncodeToString(env.EncryptedKeyBlock),
		CipherData:        base64.StdEncoding.EncodeToString(env.CipherData),
	}
}
