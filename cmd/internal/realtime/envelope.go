package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Version is the notify channel protocol version.
const Version = 1

// Envelope frame types.
const (
	// TypeWelcome is pushed by the server right after admission.
	TypeWelcome = "welcome"

	// TypeForceLogout instructs the client to terminate its local session
	// and return to login.
	TypeForceLogout = "force_logout"

	// TypeError reports a per-frame problem back to the sender.
	TypeError = "error"
)

// Envelope is the JSON frame exchanged on the notify channel.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs minimal structural checks on an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return errors.New("unsupported version")
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	return nil
}

// WelcomePayload confirms admission and echoes the bound session.
type WelcomePayload struct {
	SessionID string `json:"sessionId"`
}

// ForceLogoutPayload carries the operator-visible reason.
type ForceLogoutPayload struct {
	Message string `json:"message"`
}

// ErrorPayload reports a per-frame error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}
