package certs

import (
	"context"
	"fmt"
	"net"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshwarden/meshwarden/pkg/ipam"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/metrics"
	"github.com/meshwarden/meshwarden/pkg/nebulacert"
	"github.com/meshwarden/meshwarden/pkg/security"
	"github.com/meshwarden/meshwarden/pkg/storage"
	"github.com/meshwarden/meshwarden/pkg/types"
)

const (
	// DefaultCertDays is the fallback certificate lifetime when neither the
	// caller nor the network specifies one
	DefaultCertDays = 365

	// caDurationHours is the CA lifetime: 2 years
	caDurationHours = 2 * 8760
)

// Issued is the result of a server-generated-keypair issuance. The private
// key is surfaced here exactly once at creation time; it is also retained
// encrypted on the store for later device delivery.
type Issued struct {
	IPAddress     string
	CertPEM       string
	PrivateKeyPEM string
	CAPEM         string
	PublicKeyPEM  string
}

// Manager orchestrates CA bootstrap, host-certificate issuance, revocation
// and re-issuance, composing the IP allocator and the external cert tool.
type Manager struct {
	store storage.Store
	files *security.FileStore
	tool  nebulacert.Tool
	alloc *ipam.Allocator

	// Issuance for a given (network, hostname) is serialized so two
	// concurrent creates cannot produce two live identities for one node.
	mu        sync.Mutex
	hostLocks map[string]*sync.Mutex
}

// NewManager creates a certificate lifecycle manager
func NewManager(store storage.Store, files *security.FileStore, tool nebulacert.Tool, alloc *ipam.Allocator) *Manager {
	return &Manager{
		store:     store,
		files:     files,
		tool:      tool,
		alloc:     alloc,
		hostLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) hostLock(networkID, hostname string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := networkID + "/" + hostname
	l, ok := m.hostLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.hostLocks[key] = l
	}
	return l
}

// Cert store layout: per-network CA files, per-hostname host files.
func caCertPath(networkID string) string {
	return path.Join(networkID, "ca.crt")
}

func caKeyPath(networkID string) string {
	return path.Join(networkID, "ca.key")
}

func hostCertPath(networkID, hostname string) string {
	return path.Join(networkID, "hosts", hostname+".crt")
}

func hostKeyPath(networkID, hostname string) string {
	return path.Join(networkID, "hosts", hostname+".key")
}

// EnsureCA makes sure the network has CA material, creating it on first use.
// Idempotent: recorded-and-present material is a no-op, and CA files present
// on the store but unrecorded (e.g. after a metadata reset) are adopted
// rather than regenerated - the external tool refuses to overwrite existing
// CA files, so silent overwrite is never attempted.
func (m *Manager) EnsureCA(ctx context.Context, network *types.Network) error {
	if network.CACertPath != "" && m.files.Exists(network.CACertPath) {
		return nil
	}

	crt := caCertPath(network.ID)
	key := caKeyPath(network.ID)

	if m.files.Exists(crt) && m.files.Exists(key) {
		network.CACertPath = crt
		network.CAKeyPath = key
		if err := m.store.UpdateNetwork(network); err != nil {
			return fmt.Errorf("failed to adopt existing CA: %w", err)
		}
		log.WithComponent("certs").Info().
			Str("network", network.Name).
			Msg("adopted existing CA material")
		return nil
	}

	ca, err := m.tool.GenerateCA(ctx, network.Name, caDurationHours)
	if err != nil {
		metrics.CertToolFailures.Inc()
		return err
	}

	if err := m.files.Write(crt, []byte(ca.CertPEM)); err != nil {
		return fmt.Errorf("failed to persist CA certificate: %w", err)
	}
	if err := m.files.Write(key, []byte(ca.KeyPEM)); err != nil {
		return fmt.Errorf("failed to persist CA key: %w", err)
	}

	network.CACertPath = crt
	network.CAKeyPath = key
	if err := m.store.UpdateNetwork(network); err != nil {
		return fmt.Errorf("failed to record CA material: %w", err)
	}

	metrics.CAsGenerated.Inc()
	log.WithComponent("certs").Info().
		Str("network", network.Name).
		Msg("generated CA")
	return nil
}

// networkPrefixCIDR returns ip with the network's prefix length attached.
// Certificates carry the shared prefix, never /32: hosts signed with /32
// have no routed prefix in common and cannot reach each other under the
// agent's default routing.
func networkPrefixCIDR(ip, subnetCIDR string) (string, error) {
	_, ipnet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return "", fmt.Errorf("%w: invalid network CIDR %q: %v", types.ErrValidation, subnetCIDR, err)
	}
	ones, _ := ipnet.Mask.Size()
	return fmt.Sprintf("%s/%d", ip, ones), nil
}

func (m *Manager) certDuration(network *types.Network, durationDays int) int {
	if durationDays <= 0 {
		durationDays = network.DefaultCertDays
	}
	if durationDays <= 0 {
		durationDays = DefaultCertDays
	}
	return durationDays
}

func (m *Manager) readCA(network *types.Network) (certPEM, keyPEM string, err error) {
	crt, err := m.files.Read(network.CACertPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	key, err := m.files.Read(network.CAKeyPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read CA key: %w", err)
	}
	return string(crt), string(key), nil
}

// CACert returns the network's CA certificate PEM for distribution
func (m *Manager) CACert(network *types.Network) (string, error) {
	if network.CACertPath == "" {
		return "", fmt.Errorf("%w: network %q has no CA yet", types.ErrNotFound, network.Name)
	}
	data, err := m.files.Read(network.CACertPath)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return string(data), nil
}

// SignHost signs a host certificate over a caller-supplied public key
// ("betterkeys" mode). The manager allocates an address and returns it with
// the signed certificate; no private key is ever handled.
func (m *Manager) SignHost(ctx context.Context, network *types.Network, name, publicKeyPEM string, groups []string, suggestedIP string, durationDays int) (string, string, error) {
	l := m.hostLock(network.ID, name)
	l.Lock()
	defer l.Unlock()

	return m.signHostLocked(ctx, network, name, publicKeyPEM, groups, suggestedIP, durationDays)
}

func (m *Manager) signHostLocked(ctx context.Context, network *types.Network, name, publicKeyPEM string, groups []string, suggestedIP string, durationDays int) (string, string, error) {
	if err := m.EnsureCA(ctx, network); err != nil {
		return "", "", err
	}

	durationDays = m.certDuration(network, durationDays)

	ip, err := m.alloc.Allocate(network.ID, network.SubnetCIDR, suggestedIP, "")
	if err != nil {
		return "", "", err
	}

	certPEM, err := m.signAllocated(ctx, network, name, publicKeyPEM, groups, ip, durationDays)
	if err != nil {
		// The allocation is not committed to any node yet; hand it back so a
		// retry starts from a clean slate.
		if relErr := m.alloc.Release(network.ID, ip); relErr != nil {
			log.WithComponent("certs").Error().Err(relErr).
				Str("ip", ip).Msg("failed to release address after signing failure")
		}
		return "", "", err
	}

	if err := m.files.Write(hostCertPath(network.ID, name), []byte(certPEM)); err != nil {
		return "", "", fmt.Errorf("failed to persist host certificate: %w", err)
	}

	metrics.CertificatesIssued.Inc()
	return ip, certPEM, nil
}

func (m *Manager) signAllocated(ctx context.Context, network *types.Network, name, publicKeyPEM string, groups []string, ip string, durationDays int) (string, error) {
	caCert, caKey, err := m.readCA(network)
	if err != nil {
		return "", err
	}

	ipCIDR, err := networkPrefixCIDR(ip, network.SubnetCIDR)
	if err != nil {
		return "", err
	}

	certPEM, err := m.tool.Sign(ctx, nebulacert.SignRequest{
		CACertPEM:     caCert,
		CAKeyPEM:      caKey,
		Name:          name,
		IPCIDR:        ipCIDR,
		Groups:        groups,
		DurationHours: durationDays * 24,
		PublicKeyPEM:  publicKeyPEM,
	})
	if err != nil {
		metrics.CertToolFailures.Inc()
		return "", err
	}
	return certPEM, nil
}

// CreateHostCertificate issues a host identity with a server-generated
// keypair. The private key is returned once and also kept encrypted on the
// store so device delivery can re-serve it later.
func (m *Manager) CreateHostCertificate(ctx context.Context, network *types.Network, name string, groups []string, suggestedIP string, durationDays int) (*Issued, error) {
	l := m.hostLock(network.ID, name)
	l.Lock()
	defer l.Unlock()

	return m.createLocked(ctx, network, name, groups, suggestedIP, durationDays, "")
}

// createLocked performs the server-keypair issuance path. Callers hold the
// host lock. nodeID, when set, links the allocation to its owning node.
func (m *Manager) createLocked(ctx context.Context, network *types.Network, name string, groups []string, suggestedIP string, durationDays int, nodeID string) (*Issued, error) {
	if err := m.EnsureCA(ctx, network); err != nil {
		return nil, err
	}

	durationDays = m.certDuration(network, durationDays)

	ip, err := m.alloc.Allocate(network.ID, network.SubnetCIDR, suggestedIP, nodeID)
	if err != nil {
		return nil, err
	}

	issued, err := m.keygenAndSign(ctx, network, name, groups, ip, durationDays)
	if err != nil {
		if relErr := m.alloc.Release(network.ID, ip); relErr != nil {
			log.WithComponent("certs").Error().Err(relErr).
				Str("ip", ip).Msg("failed to release address after issuance failure")
		}
		return nil, err
	}

	metrics.CertificatesIssued.Inc()
	return issued, nil
}

func (m *Manager) keygenAndSign(ctx context.Context, network *types.Network, name string, groups []string, ip string, durationDays int) (*Issued, error) {
	keypair, err := m.tool.Keygen(ctx)
	if err != nil {
		metrics.CertToolFailures.Inc()
		return nil, err
	}

	certPEM, err := m.signAllocated(ctx, network, name, keypair.PublicKeyPEM, groups, ip, durationDays)
	if err != nil {
		return nil, err
	}

	if err := m.files.Write(hostCertPath(network.ID, name), []byte(certPEM)); err != nil {
		return nil, fmt.Errorf("failed to persist host certificate: %w", err)
	}
	if err := m.files.Write(hostKeyPath(network.ID, name), []byte(keypair.PrivateKeyPEM)); err != nil {
		return nil, fmt.Errorf("failed to persist host key: %w", err)
	}

	caPEM, _, err := m.readCA(network)
	if err != nil {
		return nil, err
	}

	return &Issued{
		IPAddress:     ip,
		CertPEM:       certPEM,
		PrivateKeyPEM: keypair.PrivateKeyPEM,
		CAPEM:         caPEM,
		PublicKeyPEM:  keypair.PublicKeyPEM,
	}, nil
}

// IssueForNode issues a node's first certificate. The status re-check, the
// signing, and the node bookkeeping all happen under the host lock, so when
// two requests race the loser is turned away before it touches the allocator
// or the cert store and the winner's files stay intact. When callerPublicKey
// is set only the signed certificate comes back ("betterkeys"); otherwise a
// keypair is generated server-side. On success node reflects the stored
// state.
func (m *Manager) IssueForNode(ctx context.Context, node *types.Node, network *types.Network, callerPublicKey, suggestedIP string, durationDays int) (*Issued, error) {
	l := m.hostLock(network.ID, node.Hostname)
	l.Lock()
	defer l.Unlock()

	fresh, err := m.store.GetNode(node.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status == types.NodeStatusActive {
		return nil, fmt.Errorf("%w: node %q already has a live certificate", types.ErrConflict, fresh.Hostname)
	}

	var issued *Issued
	if callerPublicKey != "" {
		ip, certPEM, err := m.signHostLocked(ctx, network, fresh.Hostname, callerPublicKey, fresh.Groups, suggestedIP, durationDays)
		if err != nil {
			return nil, err
		}
		caPEM, err := m.CACert(network)
		if err != nil {
			m.discardIssuance(network, fresh.Hostname, ip)
			return nil, err
		}
		issued = &Issued{
			IPAddress:    ip,
			CertPEM:      certPEM,
			CAPEM:        caPEM,
			PublicKeyPEM: callerPublicKey,
		}
	} else {
		issued, err = m.createLocked(ctx, network, fresh.Hostname, fresh.Groups, suggestedIP, durationDays, fresh.ID)
		if err != nil {
			return nil, err
		}
	}

	durationDays = m.certDuration(network, durationDays)
	now := time.Now().UTC()
	cert := &types.Certificate{
		ID:        uuid.New().String(),
		NodeID:    fresh.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(durationDays) * 24 * time.Hour),
	}
	if err := m.store.CreateCertificate(cert); err != nil {
		m.discardIssuance(network, fresh.Hostname, issued.IPAddress)
		return nil, fmt.Errorf("failed to record issued certificate: %w", err)
	}

	fresh.IPAddress = issued.IPAddress
	fresh.PublicKey = issued.PublicKeyPEM
	fresh.Status = types.NodeStatusActive
	if err := m.store.UpdateNode(fresh); err != nil {
		if revErr := m.store.RevokeCertificatesByNode(fresh.ID, time.Now().UTC()); revErr != nil {
			log.WithComponent("certs").Error().Err(revErr).
				Str("hostname", fresh.Hostname).Msg("failed to revoke certificate record during issuance rollback")
		}
		m.discardIssuance(network, fresh.Hostname, issued.IPAddress)
		return nil, fmt.Errorf("failed to update node after issuance: %w", err)
	}
	*node = *fresh

	log.WithComponent("certs").Info().
		Str("network", network.Name).
		Str("hostname", fresh.Hostname).
		Str("ip", issued.IPAddress).
		Msg("issued certificate")
	return issued, nil
}

// discardIssuance unwinds a signed-but-uncommitted issuance: the address goes
// back to the pool and the freshly written host files are removed.
func (m *Manager) discardIssuance(network *types.Network, hostname, ip string) {
	if err := m.alloc.Release(network.ID, ip); err != nil {
		log.WithComponent("certs").Error().Err(err).
			Str("ip", ip).Msg("failed to release address during issuance rollback")
	}
	if err := m.files.Remove(hostCertPath(network.ID, hostname)); err != nil {
		log.WithComponent("certs").Error().Err(err).
			Str("hostname", hostname).Msg("failed to remove host certificate during issuance rollback")
	}
	if err := m.files.Remove(hostKeyPath(network.ID, hostname)); err != nil {
		log.WithComponent("certs").Error().Err(err).
			Str("hostname", hostname).Msg("failed to remove host key during issuance rollback")
	}
}

// RevokeNode invalidates the node's current certificate: every unrevoked
// history record is stamped, the address is released, the on-disk cert/key
// files are deleted, and the node's live identity fields are cleared.
// Each step tolerates already-done state, so a failed revocation can be
// re-run without manual cleanup.
func (m *Manager) RevokeNode(node *types.Node, network *types.Network) error {
	l := m.hostLock(network.ID, node.Hostname)
	l.Lock()
	defer l.Unlock()

	return m.revokeLocked(node, network)
}

func (m *Manager) revokeLocked(node *types.Node, network *types.Network) error {
	if err := m.store.RevokeCertificatesByNode(node.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke certificate records: %w", err)
	}

	if node.IPAddress != "" {
		if err := m.alloc.Release(network.ID, node.IPAddress); err != nil {
			return fmt.Errorf("failed to release address: %w", err)
		}
	}

	if err := m.files.Remove(hostCertPath(network.ID, node.Hostname)); err != nil {
		return err
	}
	if err := m.files.Remove(hostKeyPath(network.ID, node.Hostname)); err != nil {
		return err
	}

	node.IPAddress = ""
	node.PublicKey = ""
	node.CertFingerprint = ""
	node.Status = types.NodeStatusRevoked
	if err := m.store.UpdateNode(node); err != nil {
		return fmt.Errorf("failed to update node after revoke: %w", err)
	}

	metrics.CertificatesRevoked.Inc()
	log.WithComponent("certs").Info().
		Str("network", network.Name).
		Str("hostname", node.Hostname).
		Msg("revoked certificate")
	return nil
}

// ReissueForExistingNode revokes the node's current identity and issues a
// fresh one bound to the same hostname and groups: new address, new keypair,
// new certificate record. The device-token version is bumped so tokens
// issued against the old identity stop verifying. The node returns to
// active status.
func (m *Manager) ReissueForExistingNode(ctx context.Context, node *types.Node, network *types.Network, suggestedIP string, durationDays int) (*Issued, error) {
	l := m.hostLock(network.ID, node.Hostname)
	l.Lock()
	defer l.Unlock()

	if err := m.revokeLocked(node, network); err != nil {
		return nil, err
	}

	issued, err := m.createLocked(ctx, network, node.Hostname, node.Groups, suggestedIP, durationDays, node.ID)
	if err != nil {
		return nil, err
	}

	durationDays = m.certDuration(network, durationDays)
	now := time.Now().UTC()
	cert := &types.Certificate{
		ID:        uuid.New().String(),
		NodeID:    node.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(durationDays) * 24 * time.Hour),
	}
	if err := m.store.CreateCertificate(cert); err != nil {
		return nil, fmt.Errorf("failed to record issued certificate: %w", err)
	}

	node.IPAddress = issued.IPAddress
	node.PublicKey = issued.PublicKeyPEM
	node.CertFingerprint = ""
	node.Status = types.NodeStatusActive
	node.TokenVersion++
	if err := m.store.UpdateNode(node); err != nil {
		return nil, fmt.Errorf("failed to update node after reissue: %w", err)
	}

	log.WithComponent("certs").Info().
		Str("network", network.Name).
		Str("hostname", node.Hostname).
		Str("ip", issued.IPAddress).
		Msg("reissued certificate")
	return issued, nil
}

// HostCertFiles returns the store-relative paths of a node's certificate and
// key files.
func HostCertFiles(networkID, hostname string) (certPath, keyPath string) {
	return hostCertPath(networkID, hostname), hostKeyPath(networkID, hostname)
}
