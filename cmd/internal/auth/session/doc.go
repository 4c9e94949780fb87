// Package session is the canonical in-memory record of active
// authenticated sessions.
//
// It is the source of truth for realtime connection admission: a session
// exists here if and only if the gateway will admit connections bearing its
// id. Destruction (explicit invalidation or TTL expiry) always converges on
// the same notifier path so bound realtime groups are evicted.
//
// Lifetime is process-scoped on purpose; there is no persistence.
package session
