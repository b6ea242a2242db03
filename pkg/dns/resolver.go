package dns

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/storage"
	"github.com/meshwarden/meshwarden/pkg/types"
)

// Resolver answers queries for node hostnames within one overlay network
type Resolver struct {
	store     storage.Store
	networkID string
	domain    string // Search domain (e.g., "mesh")
}

// NewResolver creates a resolver scoped to a single network
func NewResolver(store storage.Store, networkID, domain string) *Resolver {
	return &Resolver{
		store:     store,
		networkID: networkID,
		domain:    domain,
	}
}

// Resolve resolves a query name to A records. Supports bare hostnames
// ("web-1") and domain-qualified names ("web-1.mesh"). Only active nodes
// with an assigned overlay address resolve.
func (r *Resolver) Resolve(queryName string) ([]dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")

	log.WithComponent("dns.resolver").Debug().
		Str("query", name).
		Msg("resolving DNS query")

	hostname := r.stripDomain(name)

	node, err := r.store.GetNodeByHostname(r.networkID, hostname)
	if err != nil {
		return nil, fmt.Errorf("node not found: %s", hostname)
	}

	if node.Status != types.NodeStatusActive || node.IPAddress == "" {
		return nil, fmt.Errorf("node %s has no active overlay address", hostname)
	}

	ip := net.ParseIP(node.IPAddress)
	if ip == nil {
		return nil, fmt.Errorf("node %s has invalid address %q", hostname, node.IPAddress)
	}

	log.WithComponent("dns.resolver").Debug().
		Str("hostname", hostname).
		Str("ip", node.IPAddress).
		Msg("resolved node to overlay address")

	return []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   makeFQDN(name),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    10, // Short TTL, addresses change on re-issuance
		},
		A: ip.To4(),
	}}, nil
}

// stripDomain removes the search-domain suffix from a name
// web-1.mesh -> web-1
// web-1 -> web-1
func (r *Resolver) stripDomain(name string) string {
	return strings.TrimSuffix(name, "."+r.domain)
}

// makeFQDN ensures a name ends with a dot (fully qualified)
func makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
