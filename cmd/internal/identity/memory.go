package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/security/password"
)

// MemoryVerifier is an in-process Verifier used when no external credential
// source is wired (dev mode, tests). Passwords are stored as Argon2id
// hashes only.
type MemoryVerifier struct {
	mu    sync.RWMutex
	users map[string]memoryUser

	// dummyHash keeps unknown-user verification on the same cost path as a
	// real mismatch.
	dummyHash string
}

type memoryUser struct {
	hash  string
	roles []string
}

// NewMemoryVerifier constructs an empty verifier.
func NewMemoryVerifier() (*MemoryVerifier, error) {
	dummy, err := password.Hash("dummy-password-for-timing-only", password.DefaultParams())
	if err != nil {
		return nil, err
	}
	return &MemoryVerifier{
		users:     make(map[string]memoryUser),
		dummyHash: dummy,
	}, nil
}

// AddUser registers a user with the given plaintext password and roles.
func (v *MemoryVerifier) AddUser(username, plaintext string, roles ...string) error {
	username = normalizeUsername(username)
	if username == "" {
		return fmt.Errorf("identity: empty username")
	}

	hash, err := password.Hash(plaintext, password.DefaultParams())
	if err != nil {
		return fmt.Errorf("identity: hash: %w", err)
	}

	v.mu.Lock()
	v.users[username] = memoryUser{hash: hash, roles: append([]string(nil), roles...)}
	v.mu.Unlock()
	return nil
}

// Verify implements Verifier.
func (v *MemoryVerifier) Verify(_ context.Context, username, plaintext string) (Identity, error) {
	v.mu.RLock()
	u, ok := v.users[normalizeUsername(username)]
	v.mu.RUnlock()

	if !ok {
		// Burn comparable CPU so unknown users are not cheaper to probe.
		_, _ = password.Verify(v.dummyHash, plaintext)
		return Identity{}, ErrBadCredentials
	}

	match, err := password.Verify(u.hash, plaintext)
	if err != nil || !match {
		return Identity{}, ErrBadCredentials
	}

	return Identity{
		Username: normalizeUsername(username),
		Roles:    append([]string(nil), u.roles...),
	}, nil
}

// SeedFromSpec loads users from a "user:password:role1|role2" CSV spec
// (the MSS_SEED_USERS env format).
func (v *MemoryVerifier) SeedFromSpec(spec string) error {
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return fmt.Errorf("identity: bad seed entry %q", entry)
		}
		var roles []string
		if len(parts) == 3 && parts[2] != "" {
			roles = strings.Split(parts[2], "|")
		}
		if err := v.AddUser(parts[0], parts[1], roles...); err != nil {
			return err
		}
	}
	return nil
}

func normalizeUsername(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
