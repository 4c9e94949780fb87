package pairing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/metrics"
)

// SessionMinter creates sessions for confirmed tickets. The session
// registry satisfies this through a thin adapter at wiring time, keeping
// pairing decoupled from the session package.
type SessionMinter interface {
	Mint(id identity.Identity, platform string) (Grant, error)
}

// Coordinator runs one pairing flow (web QR login or web-to-mobile) over a
// Store, adding session minting, logging and instrumentation.
type Coordinator struct {
	log    *slog.Logger
	kind   string
	cfg    Config
	store  *Store
	minter SessionMinter
	m      *metrics.Metrics
}

// NewCoordinator constructs a coordinator for the named flow kind.
func NewCoordinator(log *slog.Logger, kind string, cfg Config, minter SessionMinter, m *metrics.Metrics) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	if minter == nil {
		return nil, errors.New("pairing: nil minter")
	}

	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	store.ExpireHook = func(t *Ticket) {
		m.TicketExpired(kind)
		log.Info("ticket.expired", "kind", kind, "ticket_id", t.ID)
	}

	return &Coordinator{
		log:    log,
		kind:   kind,
		cfg:    cfg,
		store:  store,
		minter: minter,
		m:      m,
	}, nil
}

// CreateTicket issues a Pending ticket for this flow.
func (c *Coordinator) CreateTicket(source *identity.Identity, sourcePlatform string) (Ticket, error) {
	t, err := c.store.Create(source, sourcePlatform)
	if err != nil {
		return Ticket{}, err
	}
	c.m.TicketCreated(c.kind)
	c.log.Info("ticket.created", "kind", c.kind, "ticket_id", t.ID, "expires_at", t.ExpiresAt)
	return t, nil
}

// ConfirmTicket resolves code, runs the atomic confirm, and mints a
// session for the winning caller.
func (c *Coordinator) ConfirmTicket(code string, confirmer identity.Identity, platform string) (Ticket, error) {
	t, err := c.store.ConfirmByCode(code, confirmer, platform, c.minter.Mint)
	if err != nil {
		return Ticket{}, err
	}
	c.m.TicketConfirmed(c.kind)
	c.log.Info("ticket.confirmed",
		"kind", c.kind,
		"ticket_id", t.ID,
		"username", t.Confirmed.Username,
		"session_id", t.Grant.SessionID,
	)
	return t, nil
}

// GetStatus returns the derived ticket view for polling.
func (c *Coordinator) GetStatus(ticketID string) (Ticket, error) {
	return c.store.GetByID(ticketID)
}

// Run sweeps terminal tickets until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.store.Sweep(time.Now().UTC()); n > 0 {
				c.log.Debug("ticket.sweep", "kind", c.kind, "removed", n)
			}
		}
	}
}
