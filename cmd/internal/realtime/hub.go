package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/metrics"
)

// Hub owns the broadcast groups, keyed by sessionId. A connection is a
// member of exactly one group at a time, and group membership never
// outlives the connection or the session.
type Hub struct {
	log *slog.Logger
	m   *metrics.Metrics

	mu     sync.RWMutex
	groups map[string]*Group
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		m:      m,
		groups: make(map[string]*Group),
	}
}

// GetOrCreateGroup returns a stable group handle for sessionID.
func (h *Hub) GetOrCreateGroup(sessionID string) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.groups[sessionID]; ok {
		return g
	}

	g := NewGroup(h.log, sessionID)
	h.groups[sessionID] = g
	return g
}

// Group returns the group for sessionID, if any.
func (h *Hub) Group(sessionID string) (*Group, bool) {
	h.mu.RLock()
	g, ok := h.groups[sessionID]
	h.mu.RUnlock()
	return g, ok
}

// ForceLogout pushes a forced-logout command to every connection bound to
// sessionID. It does not evict the group; the session invalidation path
// does that separately.
func (h *Hub) ForceLogout(sessionID, message string) bool {
	g, ok := h.Group(sessionID)
	if !ok {
		return false
	}

	payload, _ := json.Marshal(ForceLogoutPayload{Message: message})
	g.Broadcast(newEnvelope(TypeForceLogout, payload, time.Now().UTC()))

	h.m.ForceLogout()
	h.log.Info("realtime.force_logout", "session_id", sessionID)
	return true
}

// Evict tears down the group for sessionID: every member connection is
// signalled to close and the group is removed from the table.
func (h *Hub) Evict(sessionID string) {
	h.mu.Lock()
	g, ok := h.groups[sessionID]
	delete(h.groups, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	g.CloseAll()
	h.log.Info("realtime.group.evicted", "session_id", sessionID)
}

// SessionInvalidated implements session.Notifier: a destroyed session gets
// a forced-logout broadcast and its group synchronously evicted. Both TTL
// expiry and explicit invalidation arrive here.
func (h *Hub) SessionInvalidated(sessionID, message string) {
	h.ForceLogout(sessionID, message)
	h.Evict(sessionID)
}

// Group is the membership + broadcast fanout primitive for one session.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed here.
type Group struct {
	log       *slog.Logger
	SessionID string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewGroup constructs a group for one session.
func NewGroup(log *slog.Logger, sessionID string) *Group {
	if log == nil {
		log = slog.Default()
	}
	return &Group{
		log:       log,
		SessionID: sessionID,
		members:   make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (g *Group) Join(client *Client) {
	if g == nil || client == nil || client.ConnID == "" {
		return
	}

	g.mu.Lock()
	g.members[client.ConnID] = client
	g.mu.Unlock()

	g.log.Info("realtime.member.join", "session_id", g.SessionID, "conn_id", client.ConnID)
}

// Leave removes a client from membership and signals its shutdown.
func (g *Group) Leave(connID string) {
	if g == nil || connID == "" {
		return
	}

	g.mu.Lock()
	cl := g.members[connID]
	delete(g.members, connID)
	g.mu.Unlock()

	// Signal shutdown after removal so broadcasters never hold a pointer
	// to a client mid-teardown.
	if cl != nil {
		cl.Close()
	}

	g.log.Info("realtime.member.leave", "session_id", g.SessionID, "conn_id", connID)
}

// Len returns the current member count.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: a full member queue or shutting-down client is skipped.
func (g *Group) Broadcast(env Envelope) {
	if g == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, m := range g.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole group.
		}
	}
}

// CloseAll signals every member to shut down and clears membership.
func (g *Group) CloseAll() {
	g.mu.Lock()
	members := g.members
	g.members = make(map[string]*Client)
	g.mu.Unlock()

	for _, m := range members {
		m.Close()
	}
}
