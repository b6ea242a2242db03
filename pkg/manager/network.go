package manager

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/meshwarden/meshwarden/pkg/certs"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/metrics"
	"github.com/meshwarden/meshwarden/pkg/types"
)

// CreateNetwork registers a new overlay network. The CA is not generated
// here; it is created lazily on the first certificate request.
func (m *Manager) CreateNetwork(name, subnetCIDR string, defaultCertDays int) (*types.Network, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: network name is required", types.ErrValidation)
	}
	if _, _, err := net.ParseCIDR(subnetCIDR); err != nil {
		return nil, fmt.Errorf("%w: invalid subnet CIDR %q: %v", types.ErrValidation, subnetCIDR, err)
	}

	if _, err := m.store.GetNetworkByName(name); err == nil {
		return nil, fmt.Errorf("%w: network %q already exists", types.ErrConflict, name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	if defaultCertDays <= 0 {
		defaultCertDays = m.defaultCertDays
	}

	network := &types.Network{
		ID:              uuid.New().String(),
		Name:            name,
		SubnetCIDR:      subnetCIDR,
		DefaultCertDays: defaultCertDays,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.CreateNetwork(network); err != nil {
		return nil, err
	}

	metrics.NetworksTotal.Inc()
	log.WithNetworkID(network.ID).Info().
		Str("name", name).
		Str("subnet", subnetCIDR).
		Msg("network created")
	return network, nil
}

// GetNetwork returns a network by ID
func (m *Manager) GetNetwork(id string) (*types.Network, error) {
	return m.store.GetNetwork(id)
}

// GetNetworkByName returns a network by its unique name
func (m *Manager) GetNetworkByName(name string) (*types.Network, error) {
	return m.store.GetNetworkByName(name)
}

// ListNetworks returns all networks
func (m *Manager) ListNetworks() ([]*types.Network, error) {
	return m.store.ListNetworks()
}

// DeleteNetwork removes a network and everything it owns: nodes, their
// certificate history and configs, address allocations, group firewalls and
// the CA material. The lighthouse floor does not apply, the network itself
// is going away.
func (m *Manager) DeleteNetwork(id string) error {
	network, err := m.store.GetNetwork(id)
	if err != nil {
		return err
	}

	nodes, err := m.store.ListNodesByNetwork(id)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := m.deleteNodeRecords(node, network); err != nil {
			return fmt.Errorf("failed to delete node %s: %w", node.Hostname, err)
		}
	}

	allocations, err := m.store.ListAllocationsByNetwork(id)
	if err != nil {
		return err
	}
	for _, alloc := range allocations {
		if err := m.store.DeleteAllocation(id, alloc.IPAddress); err != nil {
			return err
		}
	}

	firewalls, err := m.store.ListGroupFirewallsByNetwork(id)
	if err != nil {
		return err
	}
	for _, gf := range firewalls {
		if err := m.store.DeleteGroupFirewall(id, gf.GroupName); err != nil {
			return err
		}
	}

	if network.CACertPath != "" {
		if err := m.certStore.Remove(network.CACertPath); err != nil {
			return err
		}
	}
	if network.CAKeyPath != "" {
		if err := m.certStore.Remove(network.CAKeyPath); err != nil {
			return err
		}
	}

	if err := m.store.DeleteNetwork(id); err != nil {
		return err
	}

	metrics.NetworksTotal.Dec()
	log.WithNetworkID(id).Info().
		Str("name", network.Name).
		Int("nodes_removed", len(nodes)).
		Msg("network deleted")
	return nil
}

// deleteNodeRecords removes a node and its dependent records without any
// floor checks. Used by the network cascade.
func (m *Manager) deleteNodeRecords(node *types.Node, network *types.Network) error {
	if err := m.store.DeleteCertificatesByNode(node.ID); err != nil {
		return err
	}
	if err := m.store.DeleteNodeConfig(node.ID); err != nil {
		return err
	}
	if node.IPAddress != "" {
		if err := m.store.DeleteAllocation(network.ID, node.IPAddress); err != nil {
			return err
		}
	}
	certPath, keyPath := certs.HostCertFiles(network.ID, node.Hostname)
	if err := m.certStore.Remove(certPath); err != nil {
		return err
	}
	if err := m.certStore.Remove(keyPath); err != nil {
		return err
	}
	return m.store.DeleteNode(node.ID)
}
