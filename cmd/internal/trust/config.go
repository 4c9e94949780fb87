package trust

import (
	"os"
	"strconv"
)

// Config defines the cryptographic parameters of the trust channel.
//
// These are configurable constants, not per-call knobs: the server keypair
// is generated once at construction and every envelope uses the same AES
// key size.
type Config struct {
	// RSAKeyBits is the modulus size of the server keypair.
	RSAKeyBits int

	// AESKeyBytes is the symmetric key size (16, 24 or 32).
	AESKeyBytes int
}

// DefaultConfig returns parameters matching the deployed clients:
// RSA-2048 key wrap and AES-256 payload encryption.
func DefaultConfig() Config {
	return Config{
		RSAKeyBits:  2048,
		AESKeyBytes: 32,
	}
}

// LoadConfigFromEnv loads trust configuration from environment variables.
//
// Optional:
//   - MSS_TRUST_RSA_BITS (>= 2048)
//   - MSS_TRUST_AES_KEY_BYTES (16, 24 or 32)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MSS_TRUST_RSA_BITS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2048 || n > 8192 {
			return Config{}, ErrConfig
		}
		cfg.RSAKeyBits = n
	}

	if v := os.Getenv("MSS_TRUST_AES_KEY_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		switch n {
		case 16, 24, 32:
			cfg.AESKeyBytes = n
		default:
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.RSAKeyBits < 2048 {
		return ErrConfig
	}
	switch c.AESKeyBytes {
	case 16, 24, 32:
		return nil
	default:
		return ErrConfig
	}
}
