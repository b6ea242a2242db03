package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/meshwarden/meshwarden/pkg/certs"
	"github.com/meshwarden/meshwarden/pkg/configgen"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/metrics"
	"github.com/meshwarden/meshwarden/pkg/types"
)

// GenerateNodeConfig synthesizes the agent configuration for a node and
// persists it encrypted with a bumped version, so devices can re-fetch the
// exact document later. With inlinePKI the document embeds the node's PEM
// material instead of file paths; the node must be active either way.
func (m *Manager) GenerateNodeConfig(nodeID string, inlinePKI bool) ([]byte, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status != types.NodeStatusActive {
		return nil, fmt.Errorf("%w: node %q has no active certificate", types.ErrValidation, node.Hostname)
	}
	network, err := m.store.GetNetwork(node.NetworkID)
	if err != nil {
		return nil, err
	}

	all, err := m.store.ListNodesByNetwork(node.NetworkID)
	if err != nil {
		return nil, err
	}
	peers := make([]*types.Node, 0, len(all))
	for _, p := range all {
		if p.ID != node.ID {
			peers = append(peers, p)
		}
	}

	firewalls, err := m.store.ListGroupFirewallsByNetwork(node.NetworkID)
	if err != nil {
		return nil, err
	}

	var material *configgen.PKIMaterial
	if inlinePKI {
		material, err = m.inlinePKI(node, network)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := configgen.Synthesize(node, network, peers, firewalls, material)
	if err != nil {
		return nil, err
	}
	rendered, err := configgen.Render(cfg)
	if err != nil {
		return nil, err
	}

	if err := m.persistNodeConfig(node.ID, rendered); err != nil {
		return nil, err
	}

	metrics.ConfigsGenerated.Inc()
	log.WithNodeID(nodeID).Info().
		Str("hostname", node.Hostname).
		Bool("inline_pki", inlinePKI).
		Msg("node config generated")
	return rendered, nil
}

// inlinePKI reads the node's PEM material from the encrypted cert store
func (m *Manager) inlinePKI(node *types.Node, network *types.Network) (*configgen.PKIMaterial, error) {
	caPEM, err := m.certs.CACert(network)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := certs.HostCertFiles(network.ID, node.Hostname)
	certPEM, err := m.certStore.Read(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read host certificate: %w", err)
	}
	keyPEM, err := m.certStore.Read(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read host key (inline delivery needs a server-generated keypair): %w", err)
	}
	return &configgen.PKIMaterial{
		CAPEM:   caPEM,
		CertPEM: string(certPEM),
		KeyPEM:  string(keyPEM),
	}, nil
}

func (m *Manager) persistNodeConfig(nodeID string, rendered []byte) error {
	version := 1
	if prev, err := m.store.GetNodeConfig(nodeID); err == nil {
		version = prev.Version + 1
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	encrypted, err := m.secrets.Encrypt(rendered)
	if err != nil {
		return fmt.Errorf("failed to encrypt node config: %w", err)
	}

	return m.store.PutNodeConfig(&types.NodeConfig{
		NodeID:      nodeID,
		Version:     version,
		ConfigYAML:  encrypted,
		GeneratedAt: time.Now().UTC(),
	})
}

// GetNodeConfig returns the last generated configuration document and its
// version, decrypted
func (m *Manager) GetNodeConfig(nodeID string) ([]byte, int, error) {
	stored, err := m.store.GetNodeConfig(nodeID)
	if err != nil {
		return nil, 0, err
	}
	plain, err := m.secrets.Decrypt(stored.ConfigYAML)
	if err != nil {
		return nil, 0, err
	}
	return plain, stored.Version, nil
}
