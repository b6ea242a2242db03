/*
Package security provides the encrypted-at-rest boundary for meshwarden.

Every byte of persisted key material and every generated configuration passes
through this package before touching disk or the database. Two pieces work
together:

# SecretsManager

AES-256 in Galois/Counter Mode (authenticated encryption). Ciphertexts carry
a fixed magic prefix followed by a random per-encryption nonce:

	MWENC\x01 | nonce (12 bytes) | ciphertext + auth tag

The magic distinguishes encrypted payloads from legacy plaintext so that a
migration can detect unconverted records. Decryption requires the magic and
fails hard on a wrong key or corrupted payload - data is never silently
treated as plaintext.

The 32-byte key is derived from an operator-supplied passphrase with SHA-256:

	key = SHA-256(passphrase)  // 32 bytes for AES-256

# FileStore

A small wrapper that roots all certificate and key files under one directory,
rejects paths escaping that root, encrypts on write and decrypts on read.
Key files (*.key) are written with 0600 permissions. Removing a missing file
is a no-op so that revocation cleanup can be re-run after partial failures.
*/
package security
