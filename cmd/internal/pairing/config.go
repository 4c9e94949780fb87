package pairing

import (
	"os"
	"strconv"
	"time"
)

// Config defines the ticket lifecycle parameters.
type Config struct {
	// TTL is the pairing window; tickets expire this long after creation.
	TTL time.Duration

	// CodeLength is the number of code characters the second device types
	// or scans.
	CodeLength int

	// SweepInterval controls how often terminal tickets are reclaimed.
	// The sweep exists purely to bound memory; expiry itself is lazy.
	SweepInterval time.Duration

	// Retention keeps terminal (confirmed/expired) tickets around long
	// enough for the issuing device to finish polling.
	Retention time.Duration
}

// DefaultConfig matches the deployed clients: a 2-minute pairing window
// and 8-character codes.
func DefaultConfig() Config {
	return Config{
		TTL:           2 * time.Minute,
		CodeLength:    8,
		SweepInterval: 30 * time.Second,
		Retention:     10 * time.Minute,
	}
}

// LoadConfigFromEnv loads pairing configuration from environment variables.
//
// Optional:
//   - MSS_PAIRING_TTL
//   - MSS_PAIRING_CODE_LENGTH (6..16)
//   - MSS_PAIRING_SWEEP_INTERVAL
//   - MSS_PAIRING_RETENTION
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MSS_PAIRING_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("MSS_PAIRING_CODE_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 6 || n > 16 {
			return Config{}, ErrConfig
		}
		cfg.CodeLength = n
	}

	if v := os.Getenv("MSS_PAIRING_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("MSS_PAIRING_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Retention = d
	}

	return cfg, nil
}
