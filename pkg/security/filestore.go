package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore reads and writes certificate and key files under a single root
// directory. Every byte on disk is encrypted; reads decrypt and authenticate.
type FileStore struct {
	root    string
	secrets *SecretsManager
}

// NewFileStore creates a file store rooted at dir. The directory is created
// if it does not exist.
func NewFileStore(dir string, secrets *SecretsManager) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cert store path: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cert store directory: %w", err)
	}
	return &FileStore{root: abs, secrets: secrets}, nil
}

// Root returns the absolute root directory of the store.
func (fs *FileStore) Root() string {
	return fs.root
}

// safePath resolves rel inside the store root and rejects traversal outside it.
func (fs *FileStore) safePath(rel string) (string, error) {
	p := filepath.Join(fs.root, filepath.Clean("/"+rel))
	if p != fs.root && !strings.HasPrefix(p, fs.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes cert store root", rel)
	}
	return p, nil
}

// Write encrypts content and writes it to rel inside the store.
// Key files are written with 0600 permissions.
func (fs *FileStore) Write(rel string, content []byte) error {
	p, err := fs.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}

	encrypted, err := fs.secrets.Encrypt(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", rel, err)
	}

	mode := os.FileMode(0644)
	if filepath.Ext(p) == ".key" {
		mode = 0600
	}
	if err := os.WriteFile(p, encrypted, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Read reads and decrypts the file at rel. A file that fails authentication
// is a hard error, never returned as-is.
func (fs *FileStore) Read(rel string) ([]byte, error) {
	p, err := fs.safePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	plain, err := fs.secrets.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("cert store file %s: %w", rel, err)
	}
	return plain, nil
}

// Exists reports whether rel exists inside the store.
func (fs *FileStore) Exists(rel string) bool {
	p, err := fs.safePath(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes the file at rel. A missing file is not an error, so that
// partial-failure cleanup paths can be re-run safely.
func (fs *FileStore) Remove(rel string) error {
	p, err := fs.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}
