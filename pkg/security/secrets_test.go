package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/meshwarden/meshwarden/pkg/types"
)

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManager() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	sm, err := NewSecretsManagerFromPassword("test-passphrase")
	if err != nil {
		t.Fatalf("Failed to create SecretsManager: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{
			name:      "pem material",
			plaintext: []byte("-----BEGIN NEBULA CERTIFICATE-----\nAAAA\n-----END NEBULA CERTIFICATE-----\n"),
		},
		{
			name:      "yaml config",
			plaintext: []byte("pki:\n  ca: /etc/nebula/ca.crt\n"),
		},
		{
			name:      "binary data",
			plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		},
		{
			name:      "large data",
			plaintext: bytes.Repeat([]byte("test"), 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := sm.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			if !bytes.HasPrefix(ciphertext, Magic) {
				t.Error("Ciphertext should carry the encryption magic")
			}
			if bytes.Contains(ciphertext, tt.plaintext) {
				t.Error("Ciphertext should not contain plaintext")
			}

			decrypted, err := sm.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestDecrypt_Errors(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32))

	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "empty data",
			data: []byte{},
		},
		{
			name: "missing magic",
			data: []byte("plaintext that was never encrypted"),
		},
		{
			name: "magic but truncated",
			data: append(append([]byte{}, Magic...), 0x01, 0x02),
		},
		{
			name: "magic but corrupted body",
			data: append(append([]byte{}, Magic...), bytes.Repeat([]byte("x"), 64)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.Decrypt(tt.data)
			if err == nil {
				t.Fatal("Decrypt() should fail")
			}
			if !errors.Is(err, types.ErrDecrypt) {
				t.Errorf("Decrypt() error = %v, want types.ErrDecrypt", err)
			}
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	sm1, _ := NewSecretsManagerFromPassword("key-one")
	sm2, _ := NewSecretsManagerFromPassword("key-two")

	ciphertext, err := sm1.Encrypt([]byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = sm2.Decrypt(ciphertext)
	if !errors.Is(err, types.ErrDecrypt) {
		t.Errorf("Decrypt() with wrong key: error = %v, want types.ErrDecrypt", err)
	}
}

func TestIsEncrypted(t *testing.T) {
	sm, _ := NewSecretsManagerFromPassword("pw")

	ciphertext, err := sm.Encrypt([]byte("data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if !IsEncrypted(ciphertext) {
		t.Error("IsEncrypted() = false for encrypted data")
	}
	if IsEncrypted([]byte("legacy plaintext")) {
		t.Error("IsEncrypted() = true for plaintext")
	}
}

func TestDeriveKey(t *testing.T) {
	key := DeriveKey("network-a")
	if len(key) != 32 {
		t.Errorf("DeriveKey() returned key of length %d, want 32", len(key))
	}
	if !bytes.Equal(key, DeriveKey("network-a")) {
		t.Error("DeriveKey() should be deterministic")
	}
	if bytes.Equal(key, DeriveKey("network-b")) {
		t.Error("Different seeds should produce different keys")
	}
}
