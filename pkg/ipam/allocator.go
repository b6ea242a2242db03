package ipam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/metrics"
	"github.com/meshwarden/meshwarden/pkg/storage"
	"github.com/meshwarden/meshwarden/pkg/types"
)

// Allocator assigns and releases host addresses from a network's CIDR block.
// Allocation state is persisted through the store; the (network, address) key
// there is the uniqueness safeguard. On top of that, a per-network mutex makes
// "exactly one allocation decision in flight per network" explicit without
// cross-network contention.
type Allocator struct {
	store storage.Store

	mu       sync.Mutex
	netLocks map[string]*sync.Mutex
}

// NewAllocator creates an allocator backed by the given store
func NewAllocator(store storage.Store) *Allocator {
	return &Allocator{
		store:    store,
		netLocks: make(map[string]*sync.Mutex),
	}
}

func (a *Allocator) networkLock(networkID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.netLocks[networkID]
	if !ok {
		l = &sync.Mutex{}
		a.netLocks[networkID] = l
	}
	return l
}

// Allocate assigns an address from the subnet. A valid, free suggested
// address wins; otherwise the lowest free host address is recorded and
// returned. Fails with types.ErrExhausted when the block is full.
func (a *Allocator) Allocate(networkID, subnetCIDR, suggestedIP, nodeID string) (string, error) {
	hosts, ipnet, err := hostAddresses(subnetCIDR)
	if err != nil {
		return "", err
	}

	l := a.networkLock(networkID)
	l.Lock()
	defer l.Unlock()

	if suggestedIP != "" {
		if ip := net.ParseIP(suggestedIP); ip != nil && usableHost(ip, ipnet) {
			err := a.store.PutAllocation(&types.AllocatedIP{
				NetworkID: networkID,
				IPAddress: suggestedIP,
				NodeID:    nodeID,
			})
			if err == nil {
				metrics.AddressesAllocated.Inc()
				return suggestedIP, nil
			}
			if !errors.Is(err, types.ErrConflict) {
				return "", err
			}
			// Taken; fall through to auto-allocation
		}
	}

	ip, err := a.store.AllocateFirstFree(networkID, hosts, nodeID)
	if err != nil {
		return "", err
	}
	metrics.AddressesAllocated.Inc()
	log.WithComponent("ipam").Debug().
		Str("network_id", networkID).
		Str("ip", ip).
		Msg("allocated address")
	return ip, nil
}

// Release frees an allocated address. Releasing an address that is not
// allocated is a no-op.
func (a *Allocator) Release(networkID, ip string) error {
	l := a.networkLock(networkID)
	l.Lock()
	defer l.Unlock()

	if _, err := a.store.GetAllocation(networkID, ip); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := a.store.DeleteAllocation(networkID, ip); err != nil {
		return err
	}
	metrics.AddressesReleased.Inc()
	return nil
}

// IsAllocated reports whether the address is currently recorded as in use.
func (a *Allocator) IsAllocated(networkID, ip string) (bool, error) {
	_, err := a.store.GetAllocation(networkID, ip)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// hostAddresses enumerates the usable host addresses of an IPv4 CIDR in
// ascending numeric order, excluding the network and broadcast addresses.
func hostAddresses(subnetCIDR string) ([]string, *net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid CIDR %q: %v", types.ErrValidation, subnetCIDR, err)
	}
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil, nil, fmt.Errorf("%w: %q is not an IPv4 subnet", types.ErrValidation, subnetCIDR)
	}

	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return nil, nil, fmt.Errorf("%w: %q is not an IPv4 subnet", types.ErrValidation, subnetCIDR)
	}
	// /31 and /32 have no addresses strictly between network and broadcast
	if ones >= 31 {
		return nil, ipnet, nil
	}

	network := binary.BigEndian.Uint32(ip4)
	broadcast := network | (1<<(32-ones) - 1)

	hosts := make([]string, 0, broadcast-network-1)
	for n := network + 1; n < broadcast; n++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], n)
		hosts = append(hosts, net.IP(b[:]).String())
	}
	return hosts, ipnet, nil
}

// usableHost reports whether ip is inside the subnet and is neither the
// network nor the broadcast address.
func usableHost(ip net.IP, ipnet *net.IPNet) bool {
	ip4 := ip.To4()
	if ip4 == nil || !ipnet.Contains(ip4) {
		return false
	}
	ones, _ := ipnet.Mask.Size()
	if ones >= 31 {
		return false
	}
	n := binary.BigEndian.Uint32(ip4)
	network := binary.BigEndian.Uint32(ipnet.IP.To4())
	broadcast := network | (1<<(32-ones) - 1)
	return n > network && n < broadcast
}
