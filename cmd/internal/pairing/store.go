package pairing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
)

// MintFunc creates a session for the confirmed identity. It runs under the
// store lock so the Pending -> Confirmed transition and session creation
// form one atomic unit; implementations must be CPU-bound, never I/O.
type MintFunc func(id identity.Identity, platform string) (Grant, error)

// Store holds live tickets. One mutex guards both indexes; every state
// transition, including the lazy expiry of a read, happens under it.
type Store struct {
	cfg Config

	// ExpireHook, when set, observes each Pending -> Expired transition
	// exactly once. Set before first use; not synchronized.
	ExpireHook func(t *Ticket)

	mu     sync.Mutex
	byID   map[string]*Ticket
	byCode map[string]string
}

// NewStore constructs an empty ticket store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.TTL <= 0 || cfg.CodeLength < 6 || cfg.Retention <= 0 {
		return nil, ErrConfig
	}
	return &Store{
		cfg:    cfg,
		byID:   make(map[string]*Ticket),
		byCode: make(map[string]string),
	}, nil
}

// Create issues a Pending ticket. source is nil for flows where the
// confirming device supplies the identity (web QR login), non-nil when the
// creating device does (web-to-mobile).
func (s *Store) Create(source *identity.Identity, sourcePlatform string) (Ticket, error) {
	now := time.Now().UTC()

	t := &Ticket{
		ID:             newTicketID(),
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.TTL),
		SourcePlatform: sourcePlatform,
	}
	if source != nil {
		cp := *source
		cp.Roles = append([]string(nil), source.Roles...)
		t.Source = &cp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Codes must be unique among non-expired tickets. Collisions are
	// vanishingly rare (32^8 space); retry rather than fail.
	for attempt := 0; ; attempt++ {
		if attempt == 10 {
			return Ticket{}, fmt.Errorf("pairing: could not allocate a unique code")
		}
		code, err := newCode(s.cfg.CodeLength)
		if err != nil {
			return Ticket{}, err
		}
		if holder, taken := s.byCode[code]; taken {
			if live := s.byID[holder]; live != nil && s.holdsCode(live, now) {
				continue
			}
		}
		t.Code = code
		break
	}

	s.byID[t.ID] = t
	s.byCode[t.Code] = t.ID
	return snapshot(t), nil
}

// ConfirmByCode performs the Pending -> Confirmed compare-and-swap.
//
// Under concurrent confirmations of the same code exactly one caller gets
// the minted grant; the rest observe ErrAlreadyConfirmed. The identity that
// logs in is the ticket's captured source when present, otherwise fallback
// (the authenticated confirmer).
func (s *Store) ConfirmByCode(code string, fallback identity.Identity, platform string, mint MintFunc) (Ticket, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	t := s.byID[id]
	if t == nil {
		return Ticket{}, ErrNotFound
	}

	now := time.Now().UTC()
	switch {
	case t.Status == StatusConfirmed:
		return Ticket{}, ErrAlreadyConfirmed
	case t.Status == StatusExpired:
		return Ticket{}, ErrExpired
	case now.After(t.ExpiresAt):
		s.expireLocked(t)
		return Ticket{}, ErrExpired
	}

	who := fallback
	if t.Source != nil {
		who = *t.Source
	}

	grant, err := mint(who, platform)
	if err != nil {
		// The ticket stays Pending; minting failures are the caller's
		// problem, not a terminal ticket state.
		return Ticket{}, err
	}

	t.Status = StatusConfirmed
	t.Confirmed = &who
	t.Grant = &grant
	return snapshot(t), nil
}

// GetByID returns a snapshot of the ticket. Status is a derived view: a
// Pending ticket past its deadline reads (and becomes) Expired even if no
// sweep has run.
func (s *Store) GetByID(id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	if t.Status == StatusPending && time.Now().UTC().After(t.ExpiresAt) {
		s.expireLocked(t)
	}
	return snapshot(t), nil
}

// Sweep expires overdue Pending tickets and drops tickets past retention.
// It shares the store mutex with ConfirmByCode, so it can never race the
// compare-and-swap. Returns the number of tickets removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.byID {
		if t.Status == StatusPending && now.After(t.ExpiresAt) {
			s.expireLocked(t)
		}
		if now.After(t.ExpiresAt.Add(s.cfg.Retention)) {
			delete(s.byID, id)
			if s.byCode[t.Code] == id {
				delete(s.byCode, t.Code)
			}
			removed++
		}
	}
	return removed
}

// holdsCode reports whether t still owns its entry in the code index. A
// Confirmed ticket keeps its code through retention, so a colliding Create
// can never rebind the code and reopen it to a second confirmation.
func (s *Store) holdsCode(t *Ticket, now time.Time) bool {
	switch t.Status {
	case StatusExpired:
		return false
	case StatusPending:
		return !now.After(t.ExpiresAt)
	default:
		return !now.After(t.ExpiresAt.Add(s.cfg.Retention))
	}
}

func (s *Store) expireLocked(t *Ticket) {
	t.Status = StatusExpired
	if s.ExpireHook != nil {
		s.ExpireHook(t)
	}
}

// snapshot copies a ticket so callers never see later mutations.
func snapshot(t *Ticket) Ticket {
	cp := *t
	if t.Source != nil {
		src := *t.Source
		src.Roles = append([]string(nil), t.Source.Roles...)
		cp.Source = &src
	}
	if t.Confirmed != nil {
		conf := *t.Confirmed
		conf.Roles = append([]string(nil), t.Confirmed.Roles...)
		cp.Confirmed = &conf
	}
	if t.Grant != nil {
		g := *t.Grant
		cp.Grant = &g
	}
	return cp
}
