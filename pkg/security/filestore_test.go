package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	sm, err := NewSecretsManagerFromPassword("filestore-test")
	if err != nil {
		t.Fatalf("NewSecretsManagerFromPassword() error = %v", err)
	}
	fs, err := NewFileStore(t.TempDir(), sm)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return fs
}

func TestFileStoreRoundtrip(t *testing.T) {
	fs := newTestFileStore(t)

	content := []byte("-----BEGIN NEBULA ED25519 PRIVATE KEY-----\nBBBB\n-----END NEBULA ED25519 PRIVATE KEY-----\n")
	if err := fs.Write("net-1/hosts/web-1.key", content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// On-disk bytes must be encrypted
	raw, err := os.ReadFile(filepath.Join(fs.Root(), "net-1", "hosts", "web-1.key"))
	if err != nil {
		t.Fatalf("reading raw file: %v", err)
	}
	if bytes.Contains(raw, content) {
		t.Error("on-disk file contains plaintext")
	}
	if !IsEncrypted(raw) {
		t.Error("on-disk file is missing the encryption magic")
	}

	got, err := fs.Read("net-1/hosts/web-1.key")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Read() returned different content")
	}
}

func TestFileStoreTraversalRejected(t *testing.T) {
	fs := newTestFileStore(t)

	// Clean()d paths stay inside the root; the write must not land outside it.
	if err := fs.Write("../escape.crt", []byte("x")); err != nil {
		t.Logf("Write() rejected traversal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(fs.Root()), "escape.crt")); err == nil {
		t.Fatal("file was written outside the store root")
	}
}

func TestFileStoreRemoveMissing(t *testing.T) {
	fs := newTestFileStore(t)

	if err := fs.Remove("does/not/exist.crt"); err != nil {
		t.Errorf("Remove() of missing file should be a no-op, got %v", err)
	}
}

func TestFileStoreExists(t *testing.T) {
	fs := newTestFileStore(t)

	if fs.Exists("net-1/ca.crt") {
		t.Error("Exists() = true before write")
	}
	if err := fs.Write("net-1/ca.crt", []byte("cert")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !fs.Exists("net-1/ca.crt") {
		t.Error("Exists() = false after write")
	}
	if err := fs.Remove("net-1/ca.crt"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if fs.Exists("net-1/ca.crt") {
		t.Error("Exists() = true after remove")
	}
}
