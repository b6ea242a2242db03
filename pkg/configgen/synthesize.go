package configgen

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/meshwarden/meshwarden/pkg/types"
)

// Default paths in generated configs; the operator places downloaded
// material at these locations on the device.
const (
	DefaultPKICA   = "/etc/nebula/ca.crt"
	DefaultPKICert = "/etc/nebula/host.crt"
	DefaultPKIKey  = "/etc/nebula/host.key"

	DefaultListenPort = 4242
	DefaultDNSPort    = 53
)

// Synthesize builds the agent configuration document for node. peers is
// every other node in the same network; groupFirewalls are the network's
// group rule sets. inlinePKI, when non-nil, embeds PEM material directly in
// the document instead of the default file paths.
//
// Pure function: same inputs, same document. Input validation belongs to the
// caller; unparseable firewall port tokens are dropped, not rejected, here.
func Synthesize(node *types.Node, network *types.Network, peers []*types.Node, groupFirewalls []*types.GroupFirewall, inlinePKI *PKIMaterial) (*NebulaConfig, error) {
	if node == nil || network == nil {
		return nil, fmt.Errorf("%w: node and network are required", types.ErrValidation)
	}

	cfg := &NebulaConfig{
		PKI:           pkiSection(inlinePKI),
		StaticHostMap: staticHostMap(peers),
		Lighthouse:    lighthouseSection(node, peers),
		Listen:        Listen{Host: "0.0.0.0", Port: DefaultListenPort},
		Punchy:        punchySection(node.PunchyOptions),
		Relay:         relaySection(node, peers),
		Tun: Tun{
			Dev:                "nebula1",
			DropLocalBroadcast: false,
			DropMulticast:      false,
			TxQueue:            500,
			MTU:                1300,
			Routes:             []string{},
		},
		Logging:  loggingSection(node.LoggingOptions),
		Firewall: firewallSection(node, groupFirewalls),
	}
	return cfg, nil
}

// Render marshals the document to YAML for delivery.
func Render(cfg *NebulaConfig) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

func pkiSection(inline *PKIMaterial) PKI {
	if inline != nil {
		return PKI{CA: inline.CAPEM, Cert: inline.CertPEM, Key: inline.KeyPEM}
	}
	return PKI{CA: DefaultPKICA, Cert: DefaultPKICert, Key: DefaultPKIKey}
}

// staticHostMap maps the overlay address of every dialable anchor peer
// (lighthouse or relay with both an address and a public endpoint) to its
// endpoint list.
func staticHostMap(peers []*types.Node) map[string][]string {
	m := make(map[string][]string)
	for _, p := range peers {
		if (p.IsLighthouse || p.IsRelay) && p.IPAddress != "" && p.PublicEndpoint != "" {
			m[p.IPAddress] = []string{p.PublicEndpoint}
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func lighthouseSection(node *types.Node, peers []*types.Node) Lighthouse {
	hosts := []string{}
	for _, p := range peers {
		if p.IsLighthouse && p.IPAddress != "" && p.PublicEndpoint != "" && p.IPAddress != node.IPAddress {
			hosts = append(hosts, p.IPAddress)
		}
	}
	sort.Strings(hosts)

	section := Lighthouse{
		AmLighthouse: node.IsLighthouse,
		Hosts:        hosts,
	}

	opts := node.LighthouseOptions
	if node.IsLighthouse && opts != nil {
		if opts.ServeDNS {
			section.ServeDNS = true
			host := opts.DNSHost
			if host == "" {
				host = "0.0.0.0"
			}
			port := opts.DNSPort
			if port == 0 {
				port = DefaultDNSPort
			}
			section.DNS = &DNSListen{Host: host, Port: port}
		}
		if opts.IntervalSeconds > 0 {
			section.Interval = opts.IntervalSeconds
		}
	}
	return section
}

func relaySection(node *types.Node, peers []*types.Node) Relay {
	if node.IsRelay {
		return Relay{AmRelay: true, UseRelays: false}
	}

	relays := []string{}
	for _, p := range peers {
		if p.IsRelay && p.IPAddress != "" && p.PublicEndpoint != "" && p.IPAddress != node.IPAddress {
			relays = append(relays, p.IPAddress)
		}
	}
	sort.Strings(relays)
	return Relay{AmRelay: false, UseRelays: len(relays) > 0, Relays: relays}
}

func punchySection(opts *types.PunchyOptions) Punchy {
	p := Punchy{
		Punch:        true,
		Respond:      true,
		Delay:        "1s",
		RespondDelay: "5s",
	}
	if opts == nil {
		return p
	}
	if opts.Punch != nil {
		p.Punch = *opts.Punch
	}
	if opts.Respond != nil {
		p.Respond = *opts.Respond
	}
	if opts.Delay != "" {
		p.Delay = opts.Delay
	}
	if opts.RespondDelay != "" {
		p.RespondDelay = opts.RespondDelay
	}
	return p
}

func loggingSection(opts *types.LoggingOptions) Logging {
	l := Logging{Level: "info", Format: "text"}
	if opts == nil {
		return l
	}
	switch opts.Level {
	case "debug", "info", "warning", "error":
		l.Level = opts.Level
	}
	switch opts.Format {
	case "json", "text":
		l.Format = opts.Format
	}
	return l
}

func defaultConntrack() Conntrack {
	return Conntrack{
		TCPTimeout:     "120h",
		UDPTimeout:     "3m",
		DefaultTimeout: "10m",
		MaxConnections: 100000,
	}
}

var allowAll = FirewallRule{Port: "any", Proto: "any", Host: "any"}

// firewallSection translates the group-scoped rule set of the node's group
// into low-level agent rules. Outbound is always allow-all. Without rules
// the inbound policy is an explicit allow-all; with rules the default action
// becomes drop and each (group, proto, port) combination gets its own rule.
func firewallSection(node *types.Node, groupFirewalls []*types.GroupFirewall) Firewall {
	fw := Firewall{
		Conntrack: defaultConntrack(),
		Outbound:  []FirewallRule{allowAll},
	}

	var rules []types.InboundRule
	if group := node.Group(); group != "" {
		for _, gf := range groupFirewalls {
			if gf.GroupName == group {
				rules = gf.InboundRules
				break
			}
		}
	}

	if len(rules) == 0 {
		fw.Inbound = []FirewallRule{allowAll}
		return fw
	}

	fw.InboundAction = "drop"
	fw.Inbound = []FirewallRule{}
	for _, r := range rules {
		for _, port := range expandPorts(r.PortRange) {
			rule := FirewallRule{Port: port, Proto: r.Protocol}
			if r.AllowedGroup == "any" {
				rule.Host = "any"
			} else {
				rule.Group = r.AllowedGroup
			}
			fw.Inbound = append(fw.Inbound, rule)
		}
	}
	return fw
}
