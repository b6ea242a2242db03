package manager

import (
	"context"
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

// NodeSpec describes a node to register
type NodeSpec struct {
	NetworkID      string
	Hostname       string
	Groups         []string
	IsLighthouse   bool
	IsRelay        bool
	PublicEndpoint string

	LighthouseOptions *types.LighthouseOptions
	LoggingOptions    *types.LoggingOptions
	PunchyOptions     *types.PunchyOptions
}

// CreateNode registers a node in pending state. The node has no certificate
// or address until one is issued.
func (m *Manager) CreateNode(spec NodeSpec) (*types.Node, error) {
	if spec.Hostname == "" {
		return nil, fmt.Errorf("%w: hostname is required", types.ErrValidation)
	}
	if (spec.IsLighthouse || spec.IsRelay) && spec.PublicEndpoint == "" {
		return nil, fmt.Errorf("%w: lighthouses and relays need a public endpoint", types.ErrValidation)
	}
	if spec.PublicEndpoint != "" {
		if _, _, err := net.SplitHostPort(spec.PublicEndpoint); err != nil {
			return nil, fmt.Errorf("%w: public endpoint must be host:port: %v", types.ErrValidation, err)
		}
	}

	if _, err := m.store.GetNetwork(spec.NetworkID); err != nil {
		return nil, err
	}

	if _, err := m.store.GetNodeByHostname(spec.NetworkID, spec.Hostname); err == nil {
		return nil, fmt.Errorf("%w: hostname %q already registered in this network", types.ErrConflict, spec.Hostname)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	node := &types.Node{
		ID:                uuid.New().String(),
		NetworkID:         spec.NetworkID,
		Hostname:          spec.Hostname,
		Groups:            spec.Groups,
		IsLighthouse:      spec.IsLighthouse,
		IsRelay:           spec.IsRelay,
		PublicEndpoint:    spec.PublicEndpoint,
		LighthouseOptions: spec.LighthouseOptions,
		LoggingOptions:    spec.LoggingOptions,
		PunchyOptions:     spec.PunchyOptions,
		Status:            types.NodeStatusPending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.store.CreateNode(node); err != nil {
		return nil, err
	}

	metrics.NodesTotal.WithLabelValues(string(types.NodeStatusPending)).Inc()
	log.WithNodeID(node.ID).Info().
		Str("hostname", node.Hostname).
		Bool("lighthouse", node.IsLighthouse).
		Bool("relay", node.IsRelay).
		Msg("node registered")
	return node, nil
}

// GetNode returns a node by ID
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

// GetNodeByHostname returns a node by its hostname within a network
func (m *Manager) GetNodeByHostname(networkID, hostname string) (*types.Node, error) {
	return m.store.GetNodeByHostname(networkID, hostname)
}

// ListNodes returns all nodes in a network
func (m *Manager) ListNodes(networkID string) ([]*types.Node, error) {
	return m.store.ListNodesByNetwork(networkID)
}

// SetLighthouse toggles the lighthouse role. Clearing the role on the
// network's last lighthouse is rejected.
func (m *Manager) SetLighthouse(nodeID string, lighthouse bool, endpoint string) (*types.Node, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	if lighthouse {
		if endpoint != "" {
			node.PublicEndpoint = endpoint
		}
		if node.PublicEndpoint == "" {
			return nil, fmt.Errorf("%w: lighthouses need a public endpoint", types.ErrValidation)
		}
	} else if node.IsLighthouse {
		if err := m.checkLighthouseFloor(node); err != nil {
			return nil, err
		}
	}

	node.IsLighthouse = lighthouse
	if err := m.store.UpdateNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// checkLighthouseFloor rejects an operation that would leave node's network
// with zero lighthouses
func (m *Manager) checkLighthouseFloor(node *types.Node) error {
	peers, err := m.store.ListNodesByNetwork(node.NetworkID)
	if err != nil {
		return err
	}
	remaining := 0
	for _, p := range peers {
		if p.IsLighthouse && p.ID != node.ID {
			remaining++
		}
	}
	if remaining == 0 {
		return fmt.Errorf("%w: network must retain at least one lighthouse", types.ErrConflict)
	}
	return nil
}

// DeleteNode removes a node and its dependent records. Deleting the
// network's last lighthouse is rejected.
func (m *Manager) DeleteNode(nodeID string) error {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	network, err := m.store.GetNetwork(node.NetworkID)
	if err != nil {
		return err
	}

	if node.IsLighthouse {
		if err := m.checkLighthouseFloor(node); err != nil {
			return err
		}
	}

	if err := m.deleteNodeRecords(node, network); err != nil {
		return err
	}
	metrics.NodesTotal.WithLabelValues(string(node.Status)).Dec()
	log.WithNodeID(nodeID).Info().
		Str("hostname", node.Hostname).
		Msg("node deleted")
	return nil
}

// IssueCertificate issues the node's first certificate. When callerPublicKey
// is set the caller keeps its private key and only the signed certificate
// comes back ("betterkeys"); otherwise the keypair is generated server-side
// and returned once. A node that already holds a live certificate conflicts;
// use ReissueNode instead.
func (m *Manager) IssueCertificate(ctx context.Context, nodeID, callerPublicKey, suggestedIP string, durationDays int) (*certs.Issued, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	network, err := m.store.GetNetwork(node.NetworkID)
	if err != nil {
		return nil, err
	}

	if node.Status == types.NodeStatusActive {
		return nil, fmt.Errorf("%w: node %q already has a live certificate", types.ErrConflict, node.Hostname)
	}

	// The conflict re-check, signing, and node bookkeeping all happen under
	// the per-host lock so a racing issuance cannot clobber the winner's
	// certificate files.
	prevStatus := node.Status
	issued, err := m.certs.IssueForNode(ctx, node, network, callerPublicKey, suggestedIP, durationDays)
	if err != nil {
		return nil, err
	}

	metrics.NodesTotal.WithLabelValues(string(prevStatus)).Dec()
	metrics.NodesTotal.WithLabelValues(string(types.NodeStatusActive)).Inc()
	log.WithNodeID(nodeID).Info().
		Str("hostname", node.Hostname).
		Str("ip", issued.IPAddress).
		Msg("certificate issued")
	return issued, nil
}

// RevokeNode invalidates the node's certificate and releases its address
func (m *Manager) RevokeNode(nodeID string) error {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	network, err := m.store.GetNetwork(node.NetworkID)
	if err != nil {
		return err
	}

	prevStatus := node.Status
	if err := m.certs.RevokeNode(node, network); err != nil {
		return err
	}
	if prevStatus != types.NodeStatusRevoked {
		metrics.NodesTotal.WithLabelValues(string(prevStatus)).Dec()
		metrics.NodesTotal.WithLabelValues(string(types.NodeStatusRevoked)).Inc()
	}
	return nil
}

// ReissueNode revokes and re-issues the node's identity: new address, new
// server-generated keypair, new certificate record. Previously issued device
// tokens stop verifying.
func (m *Manager) ReissueNode(ctx context.Context, nodeID string) (*certs.Issued, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	network, err := m.store.GetNetwork(node.NetworkID)
	if err != nil {
		return nil, err
	}

	prevStatus := node.Status
	issued, err := m.certs.ReissueForExistingNode(ctx, node, network, "", 0)
	if err != nil {
		return nil, err
	}
	if prevStatus != types.NodeStatusActive {
		metrics.NodesTotal.WithLabelValues(string(prevStatus)).Dec()
		metrics.NodesTotal.WithLabelValues(string(types.NodeStatusActive)).Inc()
	}
	return issued, nil
}

// CertificateHistory returns the node's issuance records, newest last
func (m *Manager) CertificateHistory(nodeID string) ([]*types.Certificate, error) {
	if _, err := m.store.GetNode(nodeID); err != nil {
		return nil, err
	}
	return m.store.ListCertificatesByNode(nodeID)
}
