package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/meshwarden/meshwarden/pkg/configgen"
	"github.com/meshwarden/meshwarden/pkg/manager"
	"github.com/meshwarden/meshwarden/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a Meshwarden resource from a YAML file.

Examples:
  # Create a network
  meshwarden apply -f network.yaml

  # Register a node
  meshwarden apply -f node.yaml

  # Set a group firewall
  meshwarden apply -f firewall.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource represents a generic Meshwarden resource
type Resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type ResourceMetadata struct {
	Name    string `yaml:"name"`
	Network string `yaml:"network,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var resource Resource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	m, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	switch resource.Kind {
	case "Network":
		return applyNetwork(m, &resource)
	case "Node":
		return applyNode(m, &resource)
	case "GroupFirewall":
		return applyGroupFirewall(m, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyNetwork(m *manager.Manager, resource *Resource) error {
	var spec struct {
		SubnetCIDR      string `yaml:"subnetCIDR"`
		DefaultCertDays int    `yaml:"defaultCertDays"`
	}
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("failed to parse network spec: %v", err)
	}

	name := resource.Metadata.Name
	if existing, err := m.GetNetworkByName(name); err == nil {
		fmt.Printf("Network already exists: %s (%s, skipping)\n", name, existing.SubnetCIDR)
		return nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	network, err := m.CreateNetwork(name, spec.SubnetCIDR, spec.DefaultCertDays)
	if err != nil {
		return fmt.Errorf("failed to create network: %v", err)
	}
	fmt.Printf("✓ Network created: %s (ID: %s)\n", network.Name, network.ID)
	return nil
}

func applyNode(m *manager.Manager, resource *Resource) error {
	var spec struct {
		Groups         []string                 `yaml:"groups"`
		Lighthouse     bool                     `yaml:"lighthouse"`
		Relay          bool                     `yaml:"relay"`
		PublicEndpoint string                   `yaml:"publicEndpoint"`
		LighthouseOpts *types.LighthouseOptions `yaml:"lighthouseOptions"`
		Logging        *types.LoggingOptions    `yaml:"logging"`
		Punchy         *types.PunchyOptions     `yaml:"punchy"`
	}
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("failed to parse node spec: %v", err)
	}

	network, err := m.GetNetworkByName(resource.Metadata.Network)
	if err != nil {
		return fmt.Errorf("network %q: %v", resource.Metadata.Network, err)
	}

	name := resource.Metadata.Name
	if _, err := m.GetNodeByHostname(network.ID, name); err == nil {
		fmt.Printf("Node already exists: %s (skipping)\n", name)
		return nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	node, err := m.CreateNode(manager.NodeSpec{
		NetworkID:         network.ID,
		Hostname:          name,
		Groups:            spec.Groups,
		IsLighthouse:      spec.Lighthouse,
		IsRelay:           spec.Relay,
		PublicEndpoint:    spec.PublicEndpoint,
		LighthouseOptions: spec.LighthouseOpts,
		LoggingOptions:    spec.Logging,
		PunchyOptions:     spec.Punchy,
	})
	if err != nil {
		return fmt.Errorf("failed to create node: %v", err)
	}
	fmt.Printf("✓ Node registered: %s (ID: %s)\n", node.Hostname, node.ID)
	return nil
}

func applyGroupFirewall(m *manager.Manager, resource *Resource) error {
	var spec struct {
		InboundRules []configgen.RawRule `yaml:"inboundRules"`
	}
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("failed to parse firewall spec: %v", err)
	}

	network, err := m.GetNetworkByName(resource.Metadata.Network)
	if err != nil {
		return fmt.Errorf("network %q: %v", resource.Metadata.Network, err)
	}

	gf, err := m.SetGroupFirewall(network.ID, resource.Metadata.Name, spec.InboundRules)
	if err != nil {
		return fmt.Errorf("failed to set group firewall: %v", err)
	}
	fmt.Printf("✓ Firewall applied: group %s (%d rules)\n", gf.GroupName, len(gf.InboundRules))
	return nil
}
