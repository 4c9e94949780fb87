package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/identity"
	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/metrics"
)

// Session is one active authenticated access period.
type Session struct {
	ID        string
	Username  string
	Roles     []string
	Platform  string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Notifier receives invalidation events so the realtime layer can push a
// forced logout and evict the session's group. Injected as an interface so
// this package stays free of transport concerns.
type Notifier interface {
	SessionInvalidated(sessionID, message string)
}

// Registry is the process-wide session store.
//
// Reads (Exists, Get) take the read lock only; expiry is a lazy derived
// view at read time, with a background sweep reclaiming memory. The sweep
// re-checks expiry under the write lock, so both paths always agree about
// whether a past-expiry session is usable.
type Registry struct {
	log    *slog.Logger
	cfg    Config
	tokens *pasetoV4PublicManager
	m      *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]Session

	notifierMu sync.RWMutex
	notifier   Notifier
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger, cfg Config, m *metrics.Metrics) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		return nil, ErrConfig
	}

	tokens, err := newPasetoV4PublicManager(cfg)
	if err != nil {
		return nil, err
	}

	return &Registry{
		log:      log,
		cfg:      cfg,
		tokens:   tokens,
		m:        m,
		sessions: make(map[string]Session),
	}, nil
}

// SetNotifier installs the invalidation notifier. The registry is
// constructed before the realtime gateway, so the hook arrives after both
// exist.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifierMu.Lock()
	r.notifier = n
	r.notifierMu.Unlock()
}

// TokenPublicKeyHex exposes the token verification key for diagnostics.
func (r *Registry) TokenPublicKeyHex() string {
	return r.tokens.PublicKeyHex()
}

// Create mints a new session for id on the given platform.
func (r *Registry) Create(id identity.Identity, platform string) (Session, error) {
	now := time.Now().UTC()

	sessionID, err := newSessionID(now)
	if err != nil {
		return Session{}, err
	}

	token, exp, err := r.tokens.Issue(id.Username, sessionID, id.Roles, platform, now)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:        sessionID,
		Username:  id.Username,
		Roles:     append([]string(nil), id.Roles...),
		Platform:  platform,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: exp,
	}

	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	r.m.SessionCreated()
	r.log.Info("session.created", "session_id", sessionID, "username", id.Username, "platform", platform)
	return sess, nil
}

// Exists reports whether sessionID identifies a live session. It is the
// admission predicate for the realtime gateway and must stay cheap under
// concurrent reads.
func (r *Registry) Exists(sessionID string) bool {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	return ok && time.Now().UTC().Before(sess.ExpiresAt)
}

// Get returns the live session for sessionID.
func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !time.Now().UTC().Before(sess.ExpiresAt) {
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// Invalidate removes sessionID and pushes a forced logout to any realtime
// group bound to it. Invalidating an absent session is a no-op.
func (r *Registry) Invalidate(sessionID string) {
	r.remove(sessionID, "Your session has been terminated.")
}

// ForceLogout is Invalidate with an operator-supplied message delivered to
// the session's connected devices.
func (r *Registry) ForceLogout(sessionID, message string) {
	if message == "" {
		message = "Your session has been terminated."
	}
	r.remove(sessionID, message)
}

// VerifyToken verifies a session token and checks the backing session is
// still live, so revocation is honored server-side.
func (r *Registry) VerifyToken(token string, now time.Time) (Session, error) {
	claims, err := r.tokens.Verify(token, now)
	if err != nil {
		return Session{}, err
	}

	sess, err := r.Get(claims.SessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Username != claims.Username {
		return Session{}, ErrInvalidToken
	}
	return sess, nil
}

// Run sweeps expired sessions until ctx is done. Expired sessions go
// through the same notify-and-evict path as explicit invalidation.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range r.expiredIDs(time.Now().UTC()) {
				r.remove(id, "Your session has expired.")
			}
		}
	}
}

func (r *Registry) expiredIDs(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, sess := range r.sessions {
		if !now.Before(sess.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids
}

// remove deletes the session under the write lock, then notifies outside
// the lock: the notifier fans out to websocket writes and must not run
// while the registry is locked.
func (r *Registry) remove(sessionID, message string) {
	r.mu.Lock()
	_, existed := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !existed {
		return
	}

	r.m.SessionRemoved()
	r.log.Info("session.removed", "session_id", sessionID)

	r.notifierMu.RLock()
	n := r.notifier
	r.notifierMu.RUnlock()
	if n != nil {
		n.SessionInvalidated(sessionID, message)
	}
}

func newSessionID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("session: id: %w", err)
	}
	return id.String(), nil
}
