package types

import (
	"time"
)

// Network represents a managed overlay network with its own address block,
// certificate authority, and firewall groups.
type Network struct {
	ID         string
	Name       string // Unique across the control plane
	SubnetCIDR string // e.g. "10.100.0.0/24"

	// CA material locations inside the encrypted cert store.
	// Populated lazily on the first certificate request.
	CACertPath string
	CAKeyPath  string

	// Default certificate lifetime in days for hosts in this network.
	DefaultCertDays int

	CreatedAt time.Time
}

// Node represents a participant host in an overlay network.
type Node struct {
	ID        string
	NetworkID string
	Hostname  string // Unique within the network

	// Live identity, populated when a certificate is issued and cleared on revoke.
	IPAddress       string
	PublicKey       string
	CertFingerprint string

	// A node currently belongs to at most one group; the slice shape is kept
	// so existing records with several entries still load.
	Groups []string

	IsLighthouse bool
	IsRelay      bool

	// host:port reachable from the public internet.
	// Required for lighthouses and relays, meaningless otherwise.
	PublicEndpoint string

	LighthouseOptions *LighthouseOptions
	LoggingOptions    *LoggingOptions
	PunchyOptions     *PunchyOptions

	Status NodeStatus

	// TokenVersion is a monotonic counter; bumping it invalidates every
	// device token issued before the bump (re-enrollment).
	TokenVersion int

	CreatedAt time.Time
}

// NodeStatus represents the identity lifecycle state of a node
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending" // no certificate yet
	NodeStatusActive  NodeStatus = "active"  // valid certificate + address
	NodeStatusRevoked NodeStatus = "revoked" // certificate invalidated, address released
)

// Group returns the node's single group, or "" when it has none.
func (n *Node) Group() string {
	if len(n.Groups) == 0 {
		return ""
	}
	return n.Groups[0]
}

// Certificate is one issuance record in a node's certificate history.
// At most one record is current: the most recent one with no RevokedAt.
type Certificate struct {
	ID        string
	NodeID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// AllocatedIP marks an address as in use within a network.
// Releasing deletes the record; the address is immediately reusable.
type AllocatedIP struct {
	NetworkID string
	IPAddress string
	NodeID    string // Optional link to the owning node
}

// GroupFirewall holds the ordered inbound rules for one group of a network.
// Keyed by (NetworkID, GroupName). Outbound is always allow-all.
type GroupFirewall struct {
	NetworkID    string
	GroupName    string
	InboundRules []InboundRule
}

// InboundRule allows traffic from a source group on a protocol and port range.
type InboundRule struct {
	AllowedGroup string // Source group, never empty after validation
	Protocol     string // "any", "tcp", "udp" or "icmp"
	PortRange    string // "any", a port, or a list like "22,80-88"
	Description  string
}

// Valid protocols for inbound rules
const (
	ProtoAny  = "any"
	ProtoTCP  = "tcp"
	ProtoUDP  = "udp"
	ProtoICMP = "icmp"
)

// LighthouseOptions configures the lighthouse behavior of a node
type LighthouseOptions struct {
	ServeDNS        bool
	DNSHost         string
	DNSPort         int
	IntervalSeconds int
}

// LoggingOptions configures the agent's logging on a node.
// Level and Format are validated during config synthesis.
type LoggingOptions struct {
	Level  string // debug, info, warning, error (default info)
	Format string // json or text (default text)
}

// PunchyOptions configures NAT traversal behavior. Nil pointers mean
// "use the default" and are filled in during config synthesis.
type PunchyOptions struct {
	Punch        *bool
	Respond      *bool
	Delay        string // e.g. "1s"
	RespondDelay string // e.g. "5s"
}

// NodeConfig is a generated runtime configuration document for a node,
// persisted encrypted so devices can re-fetch it.
type NodeConfig struct {
	NodeID      string
	Version     int
	ConfigYAML  []byte // Encrypted at rest
	GeneratedAt time.Time
}
