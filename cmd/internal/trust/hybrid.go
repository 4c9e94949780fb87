package trust

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Envelope is the wire-level output of hybrid encryption.
//
// EncryptedKeyBlock is RSA-OAEP(aesKey || nonce); CipherData is the
// AES-GCM ciphertext (tag included). Both transport as base64 at the HTTP
// boundary.
type Envelope struct {
	EncryptedKeyBlock []byte
	CipherData        []byte
}

// Encrypt seals plaintext for the holder of pub.
//
// A fresh key and nonce are drawn from crypto/rand on every call; nothing
// about the operation is reusable across calls.
func Encrypt(plaintext []byte, pub *rsa.PublicKey, aesKeyBytes int) (Envelope, error) {
	switch aesKeyBytes {
	case 16, 24, 32:
	default:
		return Envelope{}, fmt.Errorf("encrypt: bad AES key size %d: %w", aesKeyBytes, ErrConfig)
	}

	key := make([]byte, aesKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return Envelope{}, fmt.Errorf("encrypt: key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("encrypt: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("encrypt: gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("encrypt: nonce: %w", err)
	}

	cipherData := gcm.Seal(nil, nonce, plaintext, nil)

	// Key block layout: aesKey || nonce, wrapped in a single OAEP operation.
	keyBlock := make([]byte, 0, len(key)+len(nonce))
	keyBlock = append(keyBlock, key...)
	keyBlock = append(keyBlock, nonce...)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, keyBlock, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("encrypt: wrap: %w", err)
	}

	return Envelope{
		EncryptedKeyBlock: wrapped,
		CipherData:        cipherData,
	}, nil
}

// Decrypt opens an envelope with the recipient's private key.
//
// Every failure mode, from a wrong key to a single flipped ciphertext byte,
// surfaces as the same ErrDecryption.
func Decrypt(env Envelope, priv *rsa.PrivateKey) ([]byte, error) {
	keyBlock, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.EncryptedKeyBlock, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	// aesKey || nonce; any AES size with a standard 12-byte GCM nonce.
	if len(keyBlock) < 16+12 {
		return nil, ErrDecryption
	}
	nonce := keyBlock[len(keyBlock)-12:]
	key := keyBlock[:len(keyBlock)-12]
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrDecryption
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryption
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryption
	}

	plaintext, err := gcm.Open(nil, nonce, env.CipherData, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
