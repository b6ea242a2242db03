package configgen

import (
	"fmt"
	"strings"

	"github.com/meshwarden/meshwarden/pkg/types"
)

// RawRule is the boundary shape of a firewall rule as submitted by callers.
// The canonical field names are allowed_group/protocol/port_range; the
// legacy aliases group/proto/port are still accepted on input.
type RawRule struct {
	AllowedGroup string `yaml:"allowed_group,omitempty" json:"allowed_group,omitempty"`
	Protocol     string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	PortRange    string `yaml:"port_range,omitempty" json:"port_range,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`

	// Legacy aliases
	Group string `yaml:"group,omitempty" json:"group,omitempty"`
	Proto string `yaml:"proto,omitempty" json:"proto,omitempty"`
	Port  string `yaml:"port,omitempty" json:"port,omitempty"`
}

// NormalizeRules validates boundary rules and produces the canonical rule
// type consumed by synthesis. The synthesizer itself silently drops bad port
// tokens, so rejecting malformed input has to happen here.
func NormalizeRules(raw []RawRule) ([]types.InboundRule, error) {
	rules := make([]types.InboundRule, 0, len(raw))
	for i, r := range raw {
		rule, err := normalizeRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func normalizeRule(r RawRule) (types.InboundRule, error) {
	group := firstNonEmpty(r.AllowedGroup, r.Group)
	proto := strings.ToLower(firstNonEmpty(r.Protocol, r.Proto))
	ports := firstNonEmpty(r.PortRange, r.Port)

	if group == "" {
		return types.InboundRule{}, fmt.Errorf("%w: allowed_group is required", types.ErrValidation)
	}

	switch proto {
	case types.ProtoAny, types.ProtoTCP, types.ProtoUDP, types.ProtoICMP:
	case "":
		proto = types.ProtoAny
	default:
		return types.InboundRule{}, fmt.Errorf("%w: unknown protocol %q", types.ErrValidation, proto)
	}

	if ports == "" {
		return types.InboundRule{}, fmt.Errorf("%w: port_range is required", types.ErrValidation)
	}
	if !strings.EqualFold(ports, "any") && len(expandPorts(ports)) == 0 {
		return types.InboundRule{}, fmt.Errorf("%w: port_range %q has no valid ports", types.ErrValidation, ports)
	}

	return types.InboundRule{
		AllowedGroup: group,
		Protocol:     proto,
		PortRange:    ports,
		Description:  r.Description,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
