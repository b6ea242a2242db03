package configgen

import (
	"testing"

	"github.com/meshwarden/meshwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNetwork() *types.Network {
	return &types.Network{ID: "net-1", Name: "corp", SubnetCIDR: "10.100.0.0/24"}
}

func testNode(hostname, ip string, groups ...string) *types.Node {
	return &types.Node{
		ID:        "node-" + hostname,
		NetworkID: "net-1",
		Hostname:  hostname,
		IPAddress: ip,
		Groups:    groups,
		Status:    types.NodeStatusActive,
	}
}

func lighthouse(hostname, ip, endpoint string) *types.Node {
	n := testNode(hostname, ip)
	n.IsLighthouse = true
	n.PublicEndpoint = endpoint
	return n
}

func TestSynthesizeTopology(t *testing.T) {
	lh1 := lighthouse("lh-1", "10.100.0.1", "203.0.113.1:4242")
	lh2 := lighthouse("lh-2", "10.100.0.2", "203.0.113.2:4242")
	relay := testNode("relay-1", "10.100.0.3")
	relay.IsRelay = true
	relay.PublicEndpoint = "203.0.113.3:4242"
	worker := testNode("web-1", "10.100.0.10", "web")

	cfg, err := Synthesize(worker, testNetwork(), []*types.Node{lh1, lh2, relay}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"10.100.0.1": {"203.0.113.1:4242"},
		"10.100.0.2": {"203.0.113.2:4242"},
		"10.100.0.3": {"203.0.113.3:4242"},
	}, cfg.StaticHostMap)

	assert.False(t, cfg.Lighthouse.AmLighthouse)
	assert.Equal(t, []string{"10.100.0.1", "10.100.0.2"}, cfg.Lighthouse.Hosts)

	assert.False(t, cfg.Relay.AmRelay)
	assert.True(t, cfg.Relay.UseRelays)
	assert.Equal(t, []string{"10.100.0.3"}, cfg.Relay.Relays)
}

func TestSynthesizeLighthouseExcludesSelf(t *testing.T) {
	lh1 := lighthouse("lh-1", "10.100.0.1", "203.0.113.1:4242")
	lh2 := lighthouse("lh-2", "10.100.0.2", "203.0.113.2:4242")

	cfg, err := Synthesize(lh1, testNetwork(), []*types.Node{lh2}, nil, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Lighthouse.AmLighthouse)
	assert.Equal(t, []string{"10.100.0.2"}, cfg.Lighthouse.Hosts)
}

func TestSynthesizeRelayAdvertisesItself(t *testing.T) {
	relay := testNode("relay-1", "10.100.0.3")
	relay.IsRelay = true
	relay.PublicEndpoint = "203.0.113.3:4242"
	other := testNode("relay-2", "10.100.0.4")
	other.IsRelay = true
	other.PublicEndpoint = "203.0.113.4:4242"

	cfg, err := Synthesize(relay, testNetwork(), []*types.Node{other}, nil, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Relay.AmRelay)
	assert.False(t, cfg.Relay.UseRelays)
	assert.Empty(t, cfg.Relay.Relays, "a relay does not dial upstream relays")
}

func TestSynthesizeLighthouseDNS(t *testing.T) {
	lh := lighthouse("lh-1", "10.100.0.1", "203.0.113.1:4242")
	lh.LighthouseOptions = &types.LighthouseOptions{
		ServeDNS:        true,
		IntervalSeconds: 60,
	}

	cfg, err := Synthesize(lh, testNetwork(), nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Lighthouse.ServeDNS)
	require.NotNil(t, cfg.Lighthouse.DNS)
	assert.Equal(t, "0.0.0.0", cfg.Lighthouse.DNS.Host)
	assert.Equal(t, 53, cfg.Lighthouse.DNS.Port)
	assert.Equal(t, 60, cfg.Lighthouse.Interval)
}

func TestSynthesizeFirewallExpansion(t *testing.T) {
	node := testNode("web-1", "10.100.0.10", "web")
	firewalls := []*types.GroupFirewall{{
		NetworkID: "net-1",
		GroupName: "web",
		InboundRules: []types.InboundRule{
			{AllowedGroup: "lb", Protocol: "tcp", PortRange: "22,80-82"},
		},
	}}

	cfg, err := Synthesize(node, testNetwork(), nil, firewalls, nil)
	require.NoError(t, err)

	assert.Equal(t, "drop", cfg.Firewall.InboundAction)
	assert.Equal(t, []FirewallRule{
		{Port: "22", Proto: "tcp", Group: "lb"},
		{Port: "80", Proto: "tcp", Group: "lb"},
		{Port: "81", Proto: "tcp", Group: "lb"},
		{Port: "82", Proto: "tcp", Group: "lb"},
	}, cfg.Firewall.Inbound)
}

func TestSynthesizeFirewallAnyPort(t *testing.T) {
	node := testNode("web-1", "10.100.0.10", "web")
	firewalls := []*types.GroupFirewall{{
		NetworkID: "net-1",
		GroupName: "web",
		InboundRules: []types.InboundRule{
			{AllowedGroup: "any", Protocol: "icmp", PortRange: "any"},
		},
	}}

	cfg, err := Synthesize(node, testNetwork(), nil, firewalls, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Firewall.Inbound, 1)
	assert.Equal(t, FirewallRule{Port: "any", Proto: "icmp", Host: "any"}, cfg.Firewall.Inbound[0])
}

func TestSynthesizeFirewallDefaultAllow(t *testing.T) {
	tests := []struct {
		name      string
		node      *types.Node
		firewalls []*types.GroupFirewall
	}{
		{"no group", testNode("a", "10.100.0.10"), nil},
		{"group without entry", testNode("a", "10.100.0.10", "web"), nil},
		{"entry with no rules", testNode("a", "10.100.0.10", "web"), []*types.GroupFirewall{
			{NetworkID: "net-1", GroupName: "web"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Synthesize(tt.node, testNetwork(), nil, tt.firewalls, nil)
			require.NoError(t, err)
			assert.Empty(t, cfg.Firewall.InboundAction, "no inbound_action override without rules")
			assert.Equal(t, []FirewallRule{{Port: "any", Proto: "any", Host: "any"}}, cfg.Firewall.Inbound)
		})
	}
}

func TestSynthesizeSecondGroupIgnored(t *testing.T) {
	node := testNode("web-1", "10.100.0.10", "web", "legacy-extra")
	firewalls := []*types.GroupFirewall{
		{NetworkID: "net-1", GroupName: "legacy-extra", InboundRules: []types.InboundRule{
			{AllowedGroup: "any", Protocol: "any", PortRange: "any"},
		}},
	}

	cfg, err := Synthesize(node, testNetwork(), nil, firewalls, nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Firewall.InboundAction, "only the first group participates in firewall lookup")
}

func TestSynthesizeDefaults(t *testing.T) {
	cfg, err := Synthesize(testNode("a", "10.100.0.10"), testNetwork(), nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, PKI{CA: DefaultPKICA, Cert: DefaultPKICert, Key: DefaultPKIKey}, cfg.PKI)
	assert.Nil(t, cfg.StaticHostMap)
	assert.Equal(t, Listen{Host: "0.0.0.0", Port: 4242}, cfg.Listen)
	assert.Equal(t, Punchy{Punch: true, Respond: true, Delay: "1s", RespondDelay: "5s"}, cfg.Punchy)
	assert.Equal(t, 1300, cfg.Tun.MTU)
	assert.Equal(t, "nebula1", cfg.Tun.Dev)
	assert.Equal(t, Logging{Level: "info", Format: "text"}, cfg.Logging)
	assert.Equal(t, "120h", cfg.Firewall.Conntrack.TCPTimeout)
	assert.Equal(t, []FirewallRule{{Port: "any", Proto: "any", Host: "any"}}, cfg.Firewall.Outbound)
}

func TestSynthesizeLoggingValidation(t *testing.T) {
	tests := []struct {
		level, format         string
		wantLevel, wantFormat string
	}{
		{"debug", "json", "debug", "json"},
		{"warning", "text", "warning", "text"},
		{"verbose", "xml", "info", "text"},
		{"", "", "info", "text"},
	}
	for _, tt := range tests {
		node := testNode("a", "10.100.0.10")
		node.LoggingOptions = &types.LoggingOptions{Level: tt.level, Format: tt.format}
		cfg, err := Synthesize(node, testNetwork(), nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.wantLevel, cfg.Logging.Level)
		assert.Equal(t, tt.wantFormat, cfg.Logging.Format)
	}
}

func TestSynthesizePunchyOverrides(t *testing.T) {
	off := false
	node := testNode("a", "10.100.0.10")
	node.PunchyOptions = &types.PunchyOptions{Respond: &off, Delay: "2s"}

	cfg, err := Synthesize(node, testNetwork(), nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Punchy.Punch)
	assert.False(t, cfg.Punchy.Respond)
	assert.Equal(t, "2s", cfg.Punchy.Delay)
	assert.Equal(t, "5s", cfg.Punchy.RespondDelay)
}

func TestSynthesizeInlinePKI(t *testing.T) {
	cfg, err := Synthesize(testNode("a", "10.100.0.10"), testNetwork(), nil, nil, &PKIMaterial{
		CAPEM:   "ca-pem",
		CertPEM: "cert-pem",
		KeyPEM:  "key-pem",
	})
	require.NoError(t, err)
	assert.Equal(t, PKI{CA: "ca-pem", Cert: "cert-pem", Key: "key-pem"}, cfg.PKI)
}

func TestRenderDeterministic(t *testing.T) {
	node := testNode("web-1", "10.100.0.10", "web")
	lh := lighthouse("lh-1", "10.100.0.1", "203.0.113.1:4242")

	cfg1, err := Synthesize(node, testNetwork(), []*types.Node{lh}, nil, nil)
	require.NoError(t, err)
	cfg2, err := Synthesize(node, testNetwork(), []*types.Node{lh}, nil, nil)
	require.NoError(t, err)

	out1, err := Render(cfg1)
	require.NoError(t, err)
	out2, err := Render(cfg2)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Contains(t, string(out1), "static_host_map:")
}
