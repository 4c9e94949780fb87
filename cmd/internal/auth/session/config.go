package session

import (
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines runtime configuration for the session registry.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of session tokens.
	Issuer string

	// SessionTTL defines how long a minted session stays valid.
	SessionTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// SweepInterval defines how often the registry reclaims expired
	// sessions. The lazy Exists check is authoritative either way.
	SweepInterval time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to
	// sign PASETO v4.public session tokens. Empty means generate an
	// ephemeral key at construction; sessions are process-scoped, so an
	// ephemeral signing key is coherent and tokens simply die with the
	// process.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() Config {
	return Config{
		Issuer:        "mobile-service-system",
		SessionTTL:    8 * time.Hour,
		ClockSkew:     30 * time.Second,
		SweepInterval: time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - MSS_SESSION_ISSUER
//   - MSS_SESSION_TTL
//   - MSS_SESSION_CLOCK_SKEW
//   - MSS_SESSION_SWEEP_INTERVAL
//   - MSS_PASETO_V4_SECRET_KEY_HEX
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MSS_SESSION_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("MSS_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("MSS_SESSION_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("MSS_SESSION_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("MSS_PASETO_V4_SECRET_KEY_HEX"); v != "" {
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(v); err != nil {
			return Config{}, ErrConfig
		}
		cfg.PasetoV4SecretKeyHex = v
	}

	return cfg, nil
}
