package manager

import (
	"fmt"

	"github.com/meshwarden/meshwarden/pkg/configgen"
	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/types"
)

// SetGroupFirewall validates and stores the inbound rule set for a group.
// Rules are normalized here, at the boundary; the config synthesizer
// silently drops anything it cannot parse, so this is where bad input gets
// rejected.
func (m *Manager) SetGroupFirewall(networkID, group string, raw []configgen.RawRule) (*types.GroupFirewall, error) {
	if group == "" {
		return nil, fmt.Errorf("%w: group name is required", types.ErrValidation)
	}
	if _, err := m.store.GetNetwork(networkID); err != nil {
		return nil, err
	}

	rules, err := configgen.NormalizeRules(raw)
	if err != nil {
		return nil, err
	}

	gf := &types.GroupFirewall{
		NetworkID:    networkID,
		GroupName:    group,
		InboundRules: rules,
	}
	if err := m.store.PutGroupFirewall(gf); err != nil {
		return nil, err
	}

	log.WithNetworkID(networkID).Info().
		Str("group", group).
		Int("rules", len(rules)).
		Msg("group firewall updated")
	return gf, nil
}

// GetGroupFirewall returns the rule set for one group
func (m *Manager) GetGroupFirewall(networkID, group string) (*types.GroupFirewall, error) {
	return m.store.GetGroupFirewall(networkID, group)
}

// ListGroupFirewalls returns all rule sets in a network
func (m *Manager) ListGroupFirewalls(networkID string) ([]*types.GroupFirewall, error) {
	return m.store.ListGroupFirewallsByNetwork(networkID)
}

// DeleteGroupFirewall removes a group's rule set. Nodes in the group fall
// back to inbound allow-all on their next config generation.
func (m *Manager) DeleteGroupFirewall(networkID, group string) error {
	return m.store.DeleteGroupFirewall(networkID, group)
}
