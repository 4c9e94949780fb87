package trust

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ClientKeyRecord is one registered client public key.
// Records never expire on their own; re-registration overwrites
// (last-write-wins).
type ClientKeyRecord struct {
	ClientID     string
	PublicKey    *rsa.PublicKey
	RegisteredAt time.Time
}

// Keyring owns the server's process-lifetime RSA keypair and the mapping of
// per-client public keys.
//
// Concurrency: the client map is guarded by an RWMutex; ServerPublicKey
// reads never contend (the keypair is immutable after construction).
type Keyring struct {
	log *slog.Logger
	cfg Config

	serverKey *rsa.PrivateKey

	mu      sync.RWMutex
	clients map[string]ClientKeyRecord
}

// NewKeyring generates the server keypair and returns a ready Keyring.
// The keypair lives for the lifetime of the process; restart regenerates it.
func NewKeyring(log *slog.Logger, cfg Config) (*Keyring, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, cfg.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate: %w", err)
	}

	log.Info("trust.keyring.ready", "rsa_bits", cfg.RSAKeyBits, "aes_key_bytes", cfg.AESKeyBytes)

	return &Keyring{
		log:       log,
		cfg:       cfg,
		serverKey: key,
		clients:   make(map[string]ClientKeyRecord),
	}, nil
}

// ServerPublicKeyBase64 returns the server public key as base64-encoded
// SubjectPublicKeyInfo, the format clients import directly.
func (k *Keyring) ServerPublicKeyBase64() string {
	spki, err := x509.MarshalPKIXPublicKey(&k.serverKey.PublicKey)
	if err != nil {
		// An RSA public key always marshals; this is an invariant violation.
		panic(fmt.Sprintf("keyring: marshal server public key: %v", err))
	}
	return base64.StdEncoding.EncodeToString(spki)
}

// RegisterClientKey validates and stores a client public key.
// Idempotent: registering the same clientId again overwrites the record.
func (k *Keyring) RegisterClientKey(clientID, publicKeyBase64 string) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("keyring: empty clientId: %w", ErrInvalidKey)
	}

	pub, err := ParsePublicKeyBase64(publicKeyBase64)
	if err != nil {
		return err
	}

	rec := ClientKeyRecord{
		ClientID:     clientID,
		PublicKey:    pub,
		RegisteredAt: time.Now().UTC(),
	}

	k.mu.Lock()
	k.clients[clientID] = rec
	k.mu.Unlock()

	k.log.Info("trust.client_key.registered", "client_id", clientID)
	return nil
}

// ClientKey returns the stored record for clientID.
func (k *Keyring) ClientKey(clientID string) (ClientKeyRecord, bool) {
	k.mu.RLock()
	rec, ok := k.clients[clientID]
	k.mu.RUnlock()
	return rec, ok
}

// EncryptForClient seals plaintext for a registered client.
// No encryption work happens when the client is unknown.
func (k *Keyring) EncryptForClient(clientID string, plaintext []byte) (Envelope, error) {
	rec, ok := k.ClientKey(strings.TrimSpace(clientID))
	if !ok {
		return Envelope{}, fmt.Errorf("keyring: clientId %q: %w", clientID, ErrUnknownClient)
	}
	return Encrypt(plaintext, rec.PublicKey, k.cfg.AESKeyBytes)
}

// DecryptFromClient opens an envelope addressed to the server.
func (k *Keyring) DecryptFromClient(env Envelope) ([]byte, error) {
	return Decrypt(env, k.serverKey)
}

// ParsePublicKeyBase64 decodes a base64 SubjectPublicKeyInfo blob into an
// RSA public key. Whitespace inside the base64 is tolerated; clients that
// copy keys out of PEM blocks tend to leave newlines in.
func ParsePublicKeyBase64(publicKeyBase64 string) (*rsa.PublicKey, error) {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, publicKeyBase64)

	if normalized == "" {
		return nil, fmt.Errorf("keyring: empty public key: %w", ErrInvalidKey)
	}

	der, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("keyring: decode public key: %w", ErrInvalidKey)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keyring: parse public key: %w", ErrInvalidKey)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keyring: not an RSA key: %w", ErrInvalidKey)
	}
	return pub, nil
}
