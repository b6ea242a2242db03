package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshwarden/meshwarden/pkg/certs"
	"github.com/meshwarden/meshwarden/pkg/ipam"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/nebulacert"
	"github.com/meshwarden/meshwarden/pkg/security"
	"github.com/meshwarden/meshwarden/pkg/storage"
)

// Manager is the control-plane composition root: it owns the store, the
// encrypted cert store, the allocator, and the certificate lifecycle, and
// exposes the operations the CLI (or an API layer) calls.
type Manager struct {
	dataDir string

	store     storage.Store
	secrets   *security.SecretsManager
	certStore *security.FileStore
	alloc     *ipam.Allocator
	certs     *certs.Manager
	tokens    *TokenManager

	defaultCertDays int
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir            string
	EncryptionPassword string
	CertToolPath       string // Path to the nebula-cert binary
	DefaultCertDays    int    // Fallback certificate lifetime for new networks

	// CertTool overrides CertToolPath with an in-process implementation.
	// Used by tests.
	CertTool nebulacert.Tool
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	secrets, err := security.NewSecretsManagerFromPassword(cfg.EncryptionPassword)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create secrets manager: %v", err)
	}

	certStore, err := security.NewFileStore(filepath.Join(cfg.DataDir, "certstore"), secrets)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create cert store: %v", err)
	}

	tool := cfg.CertTool
	if tool == nil {
		toolPath := cfg.CertToolPath
		if toolPath == "" {
			toolPath = "nebula-cert"
		}
		tool = nebulacert.NewCLI(toolPath)
	}

	alloc := ipam.NewAllocator(store)

	defaultCertDays := cfg.DefaultCertDays
	if defaultCertDays <= 0 {
		defaultCertDays = certs.DefaultCertDays
	}

	m := &Manager{
		dataDir:         cfg.DataDir,
		store:           store,
		secrets:         secrets,
		certStore:       certStore,
		alloc:           alloc,
		certs:           certs.NewManager(store, certStore, tool, alloc),
		tokens:          NewTokenManager(),
		defaultCertDays: defaultCertDays,
	}

	log.WithComponent("manager").Info().
		Str("data_dir", cfg.DataDir).
		Msg("manager initialized")
	return m, nil
}

// Store exposes the underlying store for read-only consumers (DNS server)
func (m *Manager) Store() storage.Store {
	return m.store
}

// Close releases the manager's resources
func (m *Manager) Close() error {
	return m.store.Close()
}
