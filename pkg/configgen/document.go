package configgen

// NebulaConfig is the generated agent configuration document. Field names
// and section shapes follow the overlay agent's YAML schema exactly; the
// document is meant to be marshaled and dropped onto the device as-is.
type NebulaConfig struct {
	PKI           PKI                 `yaml:"pki"`
	StaticHostMap map[string][]string `yaml:"static_host_map,omitempty"`
	Lighthouse    Lighthouse          `yaml:"lighthouse"`
	Listen        Listen              `yaml:"listen"`
	Punchy        Punchy              `yaml:"punchy"`
	Relay         Relay               `yaml:"relay"`
	Tun           Tun                 `yaml:"tun"`
	Logging       Logging             `yaml:"logging"`
	Firewall      Firewall            `yaml:"firewall"`
}

// PKI points the agent at its trust material. The fields hold file paths by
// default, or raw PEM blobs when the config is generated for inline delivery.
type PKI struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// PKIMaterial carries PEM blobs for inline-config delivery.
type PKIMaterial struct {
	CAPEM   string
	CertPEM string
	KeyPEM  string
}

type Lighthouse struct {
	AmLighthouse bool       `yaml:"am_lighthouse"`
	Hosts        []string   `yaml:"hosts"`
	ServeDNS     bool       `yaml:"serve_dns,omitempty"`
	DNS          *DNSListen `yaml:"dns,omitempty"`
	Interval     int        `yaml:"interval,omitempty"`
}

type DNSListen struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Listen struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Punchy struct {
	Punch        bool   `yaml:"punch"`
	Respond      bool   `yaml:"respond"`
	Delay        string `yaml:"delay"`
	RespondDelay string `yaml:"respond_delay"`
}

type Relay struct {
	AmRelay   bool     `yaml:"am_relay"`
	UseRelays bool     `yaml:"use_relays"`
	Relays    []string `yaml:"relays,omitempty"`
}

type Tun struct {
	Dev                string   `yaml:"dev"`
	DropLocalBroadcast bool     `yaml:"drop_local_broadcast"`
	DropMulticast      bool     `yaml:"drop_multicast"`
	TxQueue            int      `yaml:"tx_queue"`
	MTU                int      `yaml:"mtu"`
	Routes             []string `yaml:"routes"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Firewall struct {
	Conntrack     Conntrack      `yaml:"conntrack"`
	InboundAction string         `yaml:"inbound_action,omitempty"`
	Outbound      []FirewallRule `yaml:"outbound"`
	Inbound       []FirewallRule `yaml:"inbound"`
}

type Conntrack struct {
	TCPTimeout     string `yaml:"tcp_timeout"`
	UDPTimeout     string `yaml:"udp_timeout"`
	DefaultTimeout string `yaml:"default_timeout"`
	MaxConnections int    `yaml:"max_connections"`
}

// FirewallRule is one low-level agent rule. Exactly one of Host or Group is
// set: "allow from anywhere" rules use Host "any", group-scoped rules use
// Group.
type FirewallRule struct {
	Port  string `yaml:"port"`
	Proto string `yaml:"proto"`
	Host  string `yaml:"host,omitempty"`
	Group string `yaml:"group,omitempty"`
}
