// Package authapi exposes login, logout and the operator forced-logout
// route on top of the credential verifier and the session registry.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/session"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
)

const maxBodyBytes = 64 << 10

const defaultPlatform = "WEB"

// Handler wires HTTP auth endpoints to the verifier and session registry.
type Handler struct {
	log      *slog.Logger
	verifier identity.Verifier
	sessions *session.Registry
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, verifier identity.Verifier, sessions *session.Registry) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if verifier == nil {
		return nil, errors.New("authapi: nil verifier")
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session registry")
	}
	return &Handler{log: log, verifier: verifier, sessions: sessions}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/realtime/force-logout", h.handleForceLogout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Platform string `json:"platform"`
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	Platform  string    `json:"platform"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type forceLogoutRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" {
		platform = defaultPlatform
	}

	id, err := h.verifier.Verify(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.verify.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	sess, err := h.sessions.Create(id, platform)
	if err != nil {
		h.log.Error("auth.login.create_session.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login", "username", sess.Username, "session_id", sess.ID, "platform", sess.Platform)
	api.WriteData(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	h.sessions.Invalidate(sess.ID)
	h.log.Info("auth.logout", "username", sess.Username, "session_id", sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleForceLogout terminates another session by id, pushing the given
// message to its connected devices. Any authenticated caller may invoke
// it, mirroring the push channel's own command semantics.
func (h *Handler) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	caller, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req forceLogoutRequest
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "sessionId is required")
		return
	}

	h.sessions.ForceLogout(sessionID, strings.TrimSpace(req.Message))
	h.log.Info("auth.force_logout", "by", caller.Username, "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	token := api.BearerToken(r)
	if token == "" {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Session{}, false
	}
	sess, err := h.sessions.VerifyToken(token, time.Now().UTC())
	if err != nil {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.Session{}, false
	}
	return sess, true
}

func toSessionResponse(sess session.Session) sessionResponse {
	return sessionResponse{
		SessionID: sess.ID,
		Token:     sess.Token,
		Username:  sess.Username,
		Roles:     sess.Roles,
		Platform:  sess.Platform,
		ExpiresAt: sess.ExpiresAt,
	}
}
