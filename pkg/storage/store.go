package storage

import (
	"time"

	"github.com/meshwarden/meshwarden/pkg/types"
)

// Store defines the interface for control-plane state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Networks
	CreateNetwork(network *types.Network) error
	GetNetwork(id string) (*types.Network, error)
	GetNetworkByName(name string) (*types.Network, error)
	ListNetworks() ([]*types.Network, error)
	UpdateNetwork(network *types.Network) error
	DeleteNetwork(id string) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	GetNodeByHostname(networkID, hostname string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesByNetwork(networkID string) ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Address allocations. PutAllocation fails with types.ErrConflict when the
	// (network, address) pair is already recorded. AllocateFirstFree performs
	// the scan-and-insert in a single write transaction.
	PutAllocation(alloc *types.AllocatedIP) error
	GetAllocation(networkID, ip string) (*types.AllocatedIP, error)
	ListAllocationsByNetwork(networkID string) ([]*types.AllocatedIP, error)
	DeleteAllocation(networkID, ip string) error
	AllocateFirstFree(networkID string, candidates []string, nodeID string) (string, error)

	// Group firewalls, keyed by (network, group name)
	PutGroupFirewall(gf *types.GroupFirewall) error
	GetGroupFirewall(networkID, group string) (*types.GroupFirewall, error)
	ListGroupFirewallsByNetwork(networkID string) ([]*types.GroupFirewall, error)
	DeleteGroupFirewall(networkID, group string) error

	// Certificate issuance history
	CreateCertificate(cert *types.Certificate) error
	ListCertificatesByNode(nodeID string) ([]*types.Certificate, error)
	RevokeCertificatesByNode(nodeID string, at time.Time) error
	DeleteCertificatesByNode(nodeID string) error

	// Generated node configs
	PutNodeConfig(cfg *types.NodeConfig) error
	GetNodeConfig(nodeID string) (*types.NodeConfig, error)
	DeleteNodeConfig(nodeID string) error

	// Utility
	Close() error
}
