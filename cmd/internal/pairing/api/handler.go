// Package pairingapi exposes the QR pairing routes for both flows: device
// confirming a web login, and web handing a login to a mobile device.
package pairingapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/api"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/auth/session"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/pairing"
)

const maxBodyBytes = 64 << 10

const (
	defaultWebPlatform    = "WEB"
	defaultMobilePlatform = "MOBILE"

	platformHeader = "X-Platform"
)

// TokenVerifier authenticates a session token. The session registry
// satisfies this directly.
type TokenVerifier interface {
	VerifyToken(token string, now time.Time) (session.Session, error)
}

// Handler wires the two pairing coordinators to their HTTP routes.
type Handler struct {
	log         *slog.Logger
	webLogin    *pairing.Coordinator
	webToMobile *pairing.Coordinator
	sessions    TokenVerifier
}

// NewHandler constructs a pairing Handler.
func NewHandler(log *slog.Logger, webLogin, webToMobile *pairing.Coordinator, sessions TokenVerifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if webLogin == nil || webToMobile == nil {
		return nil, errors.New("pairingapi: nil coordinator")
	}
	if sessions == nil {
		return nil, errors.New("pairingapi: nil token verifier")
	}
	return &Handler{
		log:         log,
		webLogin:    webLogin,
		webToMobile: webToMobile,
		sessions:    sessions,
	}, nil
}

// Register wires pairing routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/qr-login/create", h.handleWebLoginCreate)
	mux.HandleFunc("/qr-login/confirm", h.handleWebLoginConfirm)
	mux.HandleFunc("/qr-login/status/", h.statusHandler(h.webLogin, "/qr-login/status/"))
	mux.HandleFunc("/web-to-mobile-qr/create", h.handleWebToMobileCreate)
	mux.HandleFunc("/web-to-mobile-qr/confirm", h.handleWebToMobileConfirm)
	mux.HandleFunc("/web-to-mobile-qr/status/", h.statusHandler(h.webToMobile, "/web-to-mobile-qr/status/"))
}

type ticketCreatedResponse struct {
	TicketID  string    `json:"ticketId"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type confirmRequest struct {
	Code     string `json:"code"`
	Platform string `json:"platform"`
}

type grantResponse struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ticketConfirmedResponse struct {
	TicketID string         `json:"ticketId"`
	Status   string         `json:"status"`
	Grant    *grantResponse `json:"grant,omitempty"`
}

type ticketStatusResponse struct {
	TicketID  string         `json:"ticketId"`
	Code      string         `json:"code"`
	Status    string         `json:"status"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Grant     *grantResponse `json:"grant,omitempty"`
}

// ---- web login flow (anonymous browser creates, signed-in device confirms) ----

func (h *Handler) handleWebLoginCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	t, err := h.webLogin.CreateTicket(nil, "")
	if err != nil {
		h.log.Error("pairing.web_login.create.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	api.WriteData(w, http.StatusOK, toCreatedResponse(t))
}

func (h *Handler) handleWebLoginConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeConfirm(w, r, defaultWebPlatform)
	if !ok {
		return
	}

	confirmer := identity.Identity{Username: sess.Username, Roles: sess.Roles}
	t, err := h.webLogin.ConfirmTicket(req.Code, confirmer, req.Platform)
	if err != nil {
		writeConfirmError(w, err)
		return
	}

	// The minted session belongs to the polling browser; the confirming
	// device only learns the outcome.
	api.WriteData(w, http.StatusOK, ticketConfirmedResponse{
		TicketID: t.ID,
		Status:   string(t.Status),
	})
}

// ---- web-to-mobile flow (signed-in web creates, anonymous device confirms) ----

func (h *Handler) handleWebToMobileCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	sourcePlatform := strings.TrimSpace(r.Header.Get(platformHeader))
	if sourcePlatform == "" {
		sourcePlatform = defaultWebPlatform
	}

	source := identity.Identity{Username: sess.Username, Roles: sess.Roles}
	t, err := h.webToMobile.CreateTicket(&source, sourcePlatform)
	if err != nil {
		h.log.Error("pairing.web_to_mobile.create.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	api.WriteData(w, http.StatusOK, toCreatedResponse(t))
}

func (h *Handler) handleWebToMobileConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, ok := h.decodeConfirm(w, r, defaultMobilePlatform)
	if !ok {
		return
	}

	// Anonymous confirm: the ticket's captured source identity is the one
	// being signed in on the confirming device.
	t, err := h.webToMobile.ConfirmTicket(req.Code, identity.Identity{}, req.Platform)
	if err != nil {
		writeConfirmError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, ticketConfirmedResponse{
		TicketID: t.ID,
		Status:   string(t.Status),
		Grant:    toGrantResponse(t),
	})
}

// ---- shared ----

func (h *Handler) statusHandler(c *pairing.Coordinator, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" || strings.Contains(id, "/") {
			api.WriteError(w, http.StatusBadRequest, "invalid_request", "ticket id is required")
			return
		}

		t, err := c.GetStatus(id)
		if err != nil {
			if errors.Is(err, pairing.ErrNotFound) {
				api.WriteError(w, http.StatusNotFound, "not_found", "ticket not found")
				return
			}
			h.log.Error("pairing.status.fail", "err", err)
			api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}

		api.WriteData(w, http.StatusOK, ticketStatusResponse{
			TicketID:  t.ID,
			Code:      t.Code,
			Status:    string(t.Status),
			ExpiresAt: t.ExpiresAt,
			Grant:     toGrantResponse(t),
		})
	}
}

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

func (h *Handler) decodeConfirm(w http.ResponseWriter, r *http.Request, defaultPlatform string) (confirmRequest, bool) {
	var req confirmRequest
	if err := api.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return confirmRequest{}, false
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return confirmRequest{}, false
	}
	req.Platform = strings.TrimSpace(req.Platform)
	if req.Platform == "" {
		req.Platform = defaultPlatform
	}
	return req, true
}

func writeConfirmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "not_found", "no ticket matches that code")
	case errors.Is(err, pairing.ErrExpired):
		api.WriteError(w, http.StatusGone, "expired", "ticket has expired")
	case errors.Is(err, pairing.ErrAlreadyConfirmed):
		api.WriteError(w, http.StatusConflict, "already_confirmed", "ticket was already confirmed")
	default:
		api.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func toCreatedResponse(t pairing.Ticket) ticketCreatedResponse {
	return ticketCreatedResponse{
		TicketID:  t.ID,
		Code:      t.Code,
		Status:    string(t.Status),
		ExpiresAt: t.ExpiresAt,
	}
}

func toGrantResponse(t pairing.Ticket) *grantResponse {
	if t.Grant == nil || t.Confirmed == nil {
		return nil
	}
	return &grantResponse{
		SessionID: t.Grant.SessionID,
		Token:     t.Grant.Token,
		Username:  t.Confirmed.Username,
		Roles:     t.Confirmed.Roles,
		ExpiresAt: t.Grant.ExpiresAt,
	}
}
