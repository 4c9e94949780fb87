package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
)

// Status is the lifecycle state of a ticket. A ticket transitions through
// at most one terminal state and is never resurrected.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusExpired   Status = "Expired"
)

// Grant is the session credential bound into a ticket on confirmation.
type Grant struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Ticket is one login-pairing attempt between two devices.
type Ticket struct {
	ID        string
	Code      string
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time

	// Source is set for flows where the creating device is the
	// authenticated one (web-to-mobile): the identity captured at create
	// time is the one the confirm logs in as.
	Source         *identity.Identity
	SourcePlatform string

	// Confirmed and Grant are set exactly once, by the winning confirm.
	Confirmed *identity.Identity
	Grant     *Grant
}

// codeAlphabet avoids lookalike symbols; codes are read off small screens.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newTicketID() string {
	// Hyphenless UUID, the id format mobile clients already parse.
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pairing: code: %w", err)
	}
	out := make([]byte, length)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}
