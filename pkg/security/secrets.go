package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/meshwarden/meshwarden/pkg/types"
)

// Magic is prepended to every ciphertext so encrypted payloads can be told
// apart from legacy plaintext during migration. The trailing byte is a
// format version for future key rotation.
var Magic = []byte("MWENC\x01")

// SecretsManager handles encryption and decryption of persisted key material
// and generated configuration using AES-256-GCM
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSecretsManager creates a new secrets manager with the given encryption key
// The key must be 32 bytes for AES-256-GCM
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &SecretsManager{
		encryptionKey: key,
	}, nil
}

// NewSecretsManagerFromPassword creates a secrets manager using a password
// The password is hashed with SHA-256 to derive the encryption key
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:])
}

// IsEncrypted reports whether data carries the encryption magic. Used only to
// decide whether a legacy record still needs migration, never to skip
// decryption of data that should be encrypted.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Encrypt encrypts plaintext with AES-256-GCM and returns
// magic + nonce + ciphertext
func (sm *SecretsManager) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(Magic)+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	out = append(out, Magic...)
	out = append(out, gcm.Seal(nonce, nonce, plaintext, nil)...)
	return out, nil
}

// Decrypt decrypts data produced by Encrypt. Missing magic, a wrong key, or a
// corrupted payload all fail hard with types.ErrDecrypt; data is never
// silently treated as plaintext.
func (sm *SecretsManager) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", types.ErrDecrypt)
	}
	if !bytes.HasPrefix(data, Magic) {
		return nil, fmt.Errorf("%w: missing encryption magic", types.ErrDecrypt)
	}
	data = data[len(Magic):]

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", types.ErrDecrypt)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecrypt, err)
	}

	return plaintext, nil
}

// DeriveKey derives a 32-byte encryption key from a stable identifier.
func DeriveKey(seed string) []byte {
	hash := sha256.Sum256([]byte(seed))
	return hash[:]
}
