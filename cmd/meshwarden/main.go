package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshwarden/meshwarden/pkg/dns"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/manager"
	"github.com/meshwarden/meshwarden/pkg/metrics"
	"github.com/meshwarden/meshwarden/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshwarden",
	Short: "Meshwarden - control plane for Nebula overlay networks",
	Long: `Meshwarden manages Nebula-style overlay networks: address allocation,
certificate lifecycle via the nebula-cert tool, declarative group firewalls,
and per-node agent configuration generation.

All sensitive material (keys, certificates, generated configs) is encrypted
at rest.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, Output: os.Stderr})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Meshwarden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "./meshwarden-data", "Data directory for control-plane state")
	rootCmd.PersistentFlags().String("cert-tool", "nebula-cert", "Path to the nebula-cert binary")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(firewallCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(serveDNSCmd)
}

// openManager builds a Manager from the persistent flags. The encryption
// password comes from MESHWARDEN_ENCRYPTION_PASSWORD so it never appears in
// shell history or process listings.
func openManager(cmd *cobra.Command) (*manager.Manager, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	certTool, _ := cmd.Flags().GetString("cert-tool")

	password := os.Getenv("MESHWARDEN_ENCRYPTION_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("MESHWARDEN_ENCRYPTION_PASSWORD must be set")
	}

	return manager.NewManager(&manager.Config{
		DataDir:            dataDir,
		EncryptionPassword: password,
		CertToolPath:       certTool,
	})
}

// resolveNode looks a node up by "network/hostname"
func resolveNode(m *manager.Manager, ref string) (*types.Node, error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("node reference must be NETWORK/HOSTNAME, got %q", ref)
	}
	network, err := m.GetNetworkByName(parts[0])
	if err != nil {
		return nil, err
	}
	return m.GetNodeByHostname(network.ID, parts[1])
}

// Network commands
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage overlay networks",
}

var networkCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new overlay network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cidr, _ := cmd.Flags().GetString("cidr")
		certDays, _ := cmd.Flags().GetInt("cert-days")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.CreateNetwork(args[0], cidr, certDays)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Network created: %s (%s, ID: %s)\n", network.Name, network.SubnetCIDR, network.ID)
		return nil
	},
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		networks, err := m.ListNetworks()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSUBNET\tCERT DAYS\tCREATED")
		for _, n := range networks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				n.Name, n.SubnetCIDR, n.DefaultCertDays, n.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var networkDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a network and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteNetwork(network.ID); err != nil {
			return err
		}
		fmt.Printf("✓ Network deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	networkCmd.AddCommand(networkCreateCmd)
	networkCmd.AddCommand(networkListCmd)
	networkCmd.AddCommand(networkDeleteCmd)

	networkCreateCmd.Flags().String("cidr", "", "Overlay subnet in CIDR notation (required)")
	networkCreateCmd.Flags().Int("cert-days", 0, "Default certificate lifetime in days")
	_ = networkCreateCmd.MarkFlagRequired("cidr")
}

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register NETWORK/HOSTNAME",
	Short: "Register a node in a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts := strings.SplitN(args[0], "/", 2)
		if len(parts) != 2 {
			return fmt.Errorf("node reference must be NETWORK/HOSTNAME")
		}

		groups, _ := cmd.Flags().GetStringSlice("group")
		lighthouse, _ := cmd.Flags().GetBool("lighthouse")
		relay, _ := cmd.Flags().GetBool("relay")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		serveDNS, _ := cmd.Flags().GetBool("serve-dns")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(parts[0])
		if err != nil {
			return err
		}

		spec := manager.NodeSpec{
			NetworkID:      network.ID,
			Hostname:       parts[1],
			Groups:         groups,
			IsLighthouse:   lighthouse,
			IsRelay:        relay,
			PublicEndpoint: endpoint,
		}
		if serveDNS {
			spec.LighthouseOptions = &types.LighthouseOptions{ServeDNS: true}
		}

		node, err := m.CreateNode(spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node registered: %s (ID: %s, status: %s)\n", node.Hostname, node.ID, node.Status)
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list NETWORK",
	Short: "List nodes in a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(args[0])
		if err != nil {
			return err
		}
		nodes, err := m.ListNodes(network.ID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tIP\tSTATUS\tGROUP\tROLES\tENDPOINT")
		for _, n := range nodes {
			roles := []string{}
			if n.IsLighthouse {
				roles = append(roles, "lighthouse")
			}
			if n.IsRelay {
				roles = append(roles, "relay")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				n.Hostname, n.IPAddress, n.Status, n.Group(), strings.Join(roles, ","), n.PublicEndpoint)
		}
		return w.Flush()
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete NETWORK/HOSTNAME",
	Short: "Delete a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteNode(node.ID); err != nil {
			return err
		}
		fmt.Printf("✓ Node deleted: %s\n", args[0])
		return nil
	},
}

var nodeSetLighthouseCmd = &cobra.Command{
	Use:   "set-lighthouse NETWORK/HOSTNAME [true|false]",
	Short: "Toggle the lighthouse role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable := args[1] == "true"
		endpoint, _ := cmd.Flags().GetString("endpoint")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		node, err = m.SetLighthouse(node.ID, enable, endpoint)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node %s: lighthouse=%v\n", node.Hostname, node.IsLighthouse)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeRegisterCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodeSetLighthouseCmd)

	nodeRegisterCmd.Flags().StringSlice("group", nil, "Group membership (first entry drives the firewall)")
	nodeRegisterCmd.Flags().Bool("lighthouse", false, "Register as a lighthouse")
	nodeRegisterCmd.Flags().Bool("relay", false, "Register as a relay")
	nodeRegisterCmd.Flags().String("endpoint", "", "Public host:port (required for lighthouses and relays)")
	nodeRegisterCmd.Flags().Bool("serve-dns", false, "Lighthouse serves DNS for the overlay")

	nodeSetLighthouseCmd.Flags().String("endpoint", "", "Public host:port when enabling the role")
}

// Certificate commands
var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage host certificates",
}

var certIssueCmd = &cobra.Command{
	Use:   "issue NETWORK/HOSTNAME",
	Short: "Issue a node's certificate",
	Long: `Issue a certificate for a registered node.

Without --public-key the keypair is generated server-side and the private
key is printed exactly once. With --public-key the node keeps its own
private key and only the signed certificate is returned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubKeyFile, _ := cmd.Flags().GetString("public-key")
		suggestedIP, _ := cmd.Flags().GetString("ip")
		days, _ := cmd.Flags().GetInt("days")

		var publicKey string
		if pubKeyFile != "" {
			data, err := os.ReadFile(pubKeyFile)
			if err != nil {
				return fmt.Errorf("failed to read public key: %v", err)
			}
			publicKey = string(data)
		}

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}

		issued, err := m.IssueCertificate(context.Background(), node.ID, publicKey, suggestedIP, days)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Certificate issued: %s -> %s\n\n", node.Hostname, issued.IPAddress)
		fmt.Println(issued.CertPEM)
		if issued.PrivateKeyPEM != "" {
			fmt.Println("Private key (shown once, store it safely):")
			fmt.Println(issued.PrivateKeyPEM)
		}
		return nil
	},
}

var certRevokeCmd = &cobra.Command{
	Use:   "revoke NETWORK/HOSTNAME",
	Short: "Revoke a node's certificate and release its address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		if err := m.RevokeNode(node.ID); err != nil {
			return err
		}
		fmt.Printf("✓ Certificate revoked: %s\n", args[0])
		return nil
	},
}

var certReissueCmd = &cobra.Command{
	Use:   "reissue NETWORK/HOSTNAME",
	Short: "Revoke and re-issue a node's identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		issued, err := m.ReissueNode(context.Background(), node.ID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Certificate reissued: %s -> %s\n", node.Hostname, issued.IPAddress)
		return nil
	},
}

var certHistoryCmd = &cobra.Command{
	Use:   "history NETWORK/HOSTNAME",
	Short: "Show a node's certificate issuance history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		history, err := m.CertificateHistory(node.ID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ISSUED\tEXPIRES\tREVOKED")
		for _, c := range history {
			revoked := "-"
			if c.RevokedAt != nil {
				revoked = c.RevokedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				c.IssuedAt.Format(time.RFC3339), c.ExpiresAt.Format(time.RFC3339), revoked)
		}
		return w.Flush()
	},
}

func init() {
	certCmd.AddCommand(certIssueCmd)
	certCmd.AddCommand(certRevokeCmd)
	certCmd.AddCommand(certReissueCmd)
	certCmd.AddCommand(certHistoryCmd)

	certIssueCmd.Flags().String("public-key", "", "PEM file with the node's own public key")
	certIssueCmd.Flags().String("ip", "", "Suggested overlay address")
	certIssueCmd.Flags().Int("days", 0, "Certificate lifetime in days")
}

// Firewall commands
var firewallCmd = &cobra.Command{
	Use:   "firewall",
	Short: "Manage group firewalls",
}

var firewallListCmd = &cobra.Command{
	Use:   "list NETWORK",
	Short: "List group firewalls in a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(args[0])
		if err != nil {
			return err
		}
		firewalls, err := m.ListGroupFirewalls(network.ID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tALLOWED FROM\tPROTO\tPORTS")
		for _, gf := range firewalls {
			for _, r := range gf.InboundRules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", gf.GroupName, r.AllowedGroup, r.Protocol, r.PortRange)
			}
			if len(gf.InboundRules) == 0 {
				fmt.Fprintf(w, "%s\t(allow-all)\t\t\n", gf.GroupName)
			}
		}
		return w.Flush()
	},
}

var firewallDeleteCmd = &cobra.Command{
	Use:   "delete NETWORK GROUP",
	Short: "Delete a group's firewall (falls back to allow-all)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteGroupFirewall(network.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Firewall deleted for group %s\n", args[1])
		return nil
	},
}

func init() {
	firewallCmd.AddCommand(firewallListCmd)
	firewallCmd.AddCommand(firewallDeleteCmd)
}

// Config commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate and fetch node configurations",
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate NETWORK/HOSTNAME",
	Short: "Generate a node's agent configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inline, _ := cmd.Flags().GetBool("inline-pki")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		rendered, err := m.GenerateNodeConfig(node.ID, inline)
		if err != nil {
			return err
		}
		fmt.Print(string(rendered))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show NETWORK/HOSTNAME",
	Short: "Show the last generated configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		rendered, version, err := m.GetNodeConfig(node.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "# version %d\n", version)
		fmt.Print(string(rendered))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenerateCmd.Flags().Bool("inline-pki", false, "Embed PEM material instead of file paths")
}

// Token commands
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage device tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue NETWORK/HOSTNAME",
	Short: "Issue a device token for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		node, err := resolveNode(m, args[0])
		if err != nil {
			return err
		}
		token, err := m.IssueDeviceToken(node.ID, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("Token: %s\nExpires: %s\n", token.Token, token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().Duration("ttl", manager.DefaultTokenTTL, "Token lifetime")
}

// serve-dns command
var serveDNSCmd = &cobra.Command{
	Use:   "serve-dns NETWORK",
	Short: "Run the lighthouse DNS server for a network",
	Long: `Run the DNS server that resolves node hostnames to overlay addresses.

Meant to run next to a lighthouse; non-overlay queries are forwarded to the
configured upstream servers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		domain, _ := cmd.Flags().GetString("domain")
		upstream, _ := cmd.Flags().GetStringSlice("upstream")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		network, err := m.GetNetworkByName(args[0])
		if err != nil {
			return err
		}

		server := dns.NewServer(m.Store(), network.ID, &dns.Config{
			ListenAddr: listen,
			Domain:     domain,
			Upstream:   upstream,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := server.Start(ctx); err != nil {
			return err
		}

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.WithComponent("metrics").Error().Err(err).Msg("metrics server error")
				}
			}()
		}

		fmt.Printf("DNS server running for network %s. Press Ctrl+C to stop.\n", network.Name)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		return server.Stop()
	},
}

func init() {
	serveDNSCmd.Flags().String("listen", dns.DefaultListenAddr, "Address to listen on")
	serveDNSCmd.Flags().String("domain", dns.DefaultDomain, "Search domain for node names")
	serveDNSCmd.Flags().StringSlice("upstream", []string{dns.DefaultUpstream}, "Upstream DNS servers")
	serveDNSCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}
