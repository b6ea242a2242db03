package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/meshwarden/meshwarden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNetworks       = []byte("networks")
	bucketNodes          = []byte("nodes")
	bucketAllocations    = []byte("allocations")
	bucketGroupFirewalls = []byte("group_firewalls")
	bucketCertificates   = []byte("certificates")
	bucketNodeConfigs    = []byte("node_configs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "meshwarden.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNetworks,
			bucketNodes,
			bucketAllocations,
			bucketGroupFirewalls,
			bucketCertificates,
			bucketNodeConfigs,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Composite keys: allocations are keyed by network/address, group firewalls by
// network/group, certificates by node/certificate for prefix scans.
func allocKey(networkID, ip string) []byte {
	return []byte(networkID + "/" + ip)
}

func firewallKey(networkID, group string) []byte {
	return []byte(networkID + "/" + group)
}

func certKey(nodeID, certID string) []byte {
	return []byte(nodeID + "/" + certID)
}

// Network operations
func (s *BoltStore) CreateNetwork(network *types.Network) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}
		return b.Put([]byte(network.ID), data)
	})
}

func (s *BoltStore) GetNetwork(id string) (*types.Network, error) {
	var network types.Network
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: network %s", types.ErrNotFound, id)
		}
		return json.Unmarshal(data, &network)
	})
	if err != nil {
		return nil, err
	}
	return &network, nil
}

func (s *BoltStore) GetNetworkByName(name string) (*types.Network, error) {
	var found *types.Network
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		return b.ForEach(func(k, v []byte) error {
			var network types.Network
			if err := json.Unmarshal(v, &network); err != nil {
				return err
			}
			if network.Name == name {
				found = &network
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: network %s", types.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListNetworks() ([]*types.Network, error) {
	var networks []*types.Network
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		return b.ForEach(func(k, v []byte) error {
			var network types.Network
			if err := json.Unmarshal(v, &network); err != nil {
				return err
			}
			networks = append(networks, &network)
			return nil
		})
	})
	return networks, err
}

func (s *BoltStore) UpdateNetwork(network *types.Network) error {
	return s.CreateNetwork(network) // Same as create (upsert)
}

func (s *BoltStore) DeleteNetwork(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		return b.Delete([]byte(id))
	})
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: node %s", types.ErrNotFound, id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) GetNodeByHostname(networkID, hostname string) (*types.Node, error) {
	var found *types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if node.NetworkID == networkID && node.Hostname == hostname {
				found = &node
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: node %s in network %s", types.ErrNotFound, hostname, networkID)
	}
	return found, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) ListNodesByNetwork(networkID string) ([]*types.Node, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Node
	for _, node := range nodes {
		if node.NetworkID == networkID {
			filtered = append(filtered, node)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Allocation operations

// PutAllocation records an address as allocated. The (network, address) key is
// the uniqueness safeguard: an existing record fails with types.ErrConflict.
func (s *BoltStore) PutAllocation(alloc *types.AllocatedIP) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		key := allocKey(alloc.NetworkID, alloc.IPAddress)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: address %s already allocated in network %s",
				types.ErrConflict, alloc.IPAddress, alloc.NetworkID)
		}
		data, err := json.Marshal(alloc)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetAllocation(networkID, ip string) (*types.AllocatedIP, error) {
	var alloc types.AllocatedIP
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		data := b.Get(allocKey(networkID, ip))
		if data == nil {
			return fmt.Errorf("%w: allocation %s/%s", types.ErrNotFound, networkID, ip)
		}
		return json.Unmarshal(data, &alloc)
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (s *BoltStore) ListAllocationsByNetwork(networkID string) ([]*types.AllocatedIP, error) {
	var allocs []*types.AllocatedIP
	prefix := []byte(networkID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAllocations).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var alloc types.AllocatedIP
			if err := json.Unmarshal(v, &alloc); err != nil {
				return err
			}
			allocs = append(allocs, &alloc)
		}
		return nil
	})
	return allocs, err
}

// DeleteAllocation releases an address. Deleting a non-existent allocation is
// a no-op, so release can be re-run after partial failures.
func (s *BoltStore) DeleteAllocation(networkID, ip string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		return b.Delete(allocKey(networkID, ip))
	})
}

// AllocateFirstFree scans candidates in order and records the first address
// with no allocation entry. Scan and insert happen inside one write
// transaction, so two concurrent calls can never claim the same address.
func (s *BoltStore) AllocateFirstFree(networkID string, candidates []string, nodeID string) (string, error) {
	var chosen string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		for _, ip := range candidates {
			key := allocKey(networkID, ip)
			if b.Get(key) != nil {
				continue
			}
			data, err := json.Marshal(&types.AllocatedIP{
				NetworkID: networkID,
				IPAddress: ip,
				NodeID:    nodeID,
			})
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
			chosen = ip
			return nil
		}
		return fmt.Errorf("%w: network %s", types.ErrExhausted, networkID)
	})
	if err != nil {
		return "", err
	}
	return chosen, nil
}

// Group firewall operations
func (s *BoltStore) PutGroupFirewall(gf *types.GroupFirewall) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroupFirewalls)
		data, err := json.Marshal(gf)
		if err != nil {
			return err
		}
		return b.Put(firewallKey(gf.NetworkID, gf.GroupName), data)
	})
}

func (s *BoltStore) GetGroupFirewall(networkID, group string) (*types.GroupFirewall, error) {
	var gf types.GroupFirewall
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroupFirewalls)
		data := b.Get(firewallKey(networkID, group))
		if data == nil {
			return fmt.Errorf("%w: firewall for group %s in network %s", types.ErrNotFound, group, networkID)
		}
		return json.Unmarshal(data, &gf)
	})
	if err != nil {
		return nil, err
	}
	return &gf, nil
}

func (s *BoltStore) ListGroupFirewallsByNetwork(networkID string) ([]*types.GroupFirewall, error) {
	var firewalls []*types.GroupFirewall
	prefix := []byte(networkID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketGroupFirewalls).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var gf types.GroupFirewall
			if err := json.Unmarshal(v, &gf); err != nil {
				return err
			}
			firewalls = append(firewalls, &gf)
		}
		return nil
	})
	return firewalls, err
}

func (s *BoltStore) DeleteGroupFirewall(networkID, group string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroupFirewalls)
		return b.Delete(firewallKey(networkID, group))
	})
}

// Certificate history operations
func (s *BoltStore) CreateCertificate(cert *types.Certificate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		data, err := json.Marshal(cert)
		if err != nil {
			return err
		}
		return b.Put(certKey(cert.NodeID, cert.ID), data)
	})
}

func (s *BoltStore) ListCertificatesByNode(nodeID string) ([]*types.Certificate, error) {
	var certs []*types.Certificate
	prefix := []byte(nodeID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCertificates).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var cert types.Certificate
			if err := json.Unmarshal(v, &cert); err != nil {
				return err
			}
			certs = append(certs, &cert)
		}
		return nil
	})
	return certs, err
}

// RevokeCertificatesByNode stamps RevokedAt on every unrevoked record of the
// node. Already-revoked records keep their original timestamp.
func (s *BoltStore) RevokeCertificatesByNode(nodeID string, at time.Time) error {
	prefix := []byte(nodeID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var cert types.Certificate
			if err := json.Unmarshal(v, &cert); err != nil {
				return err
			}
			if cert.RevokedAt != nil {
				continue
			}
			ts := at
			cert.RevokedAt = &ts
			data, err := json.Marshal(&cert)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteCertificatesByNode(nodeID string) error {
	prefix := []byte(nodeID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Node config operations
func (s *BoltStore) PutNodeConfig(cfg *types.NodeConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeConfigs)
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(cfg.NodeID), data)
	})
}

func (s *BoltStore) GetNodeConfig(nodeID string) (*types.NodeConfig, error) {
	var cfg types.NodeConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeConfigs)
		data := b.Get([]byte(nodeID))
		if data == nil {
			return fmt.Errorf("%w: config for node %s", types.ErrNotFound, nodeID)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) DeleteNodeConfig(nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodeConfigs)
		return b.Delete([]byte(nodeID))
	})
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
