package trust

import "errors"

var (
	// ErrDecryption is returned when an envelope cannot be opened: key-block
	// unwrap failure and payload integrity failure are deliberately
	// indistinguishable so callers cannot be used as a padding/tamper oracle.
	ErrDecryption = errors.New("decryption failed")

	// ErrUnknownClient is returned when encrypting for a clientId that has
	// not registered a public key.
	ErrUnknownClient = errors.New("unknown client")

	// ErrInvalidKey is returned when a supplied public key is malformed,
	// not SubjectPublicKeyInfo, or not an RSA key.
	ErrInvalidKey = errors.New("invalid public key")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
