package configgen

import (
	"testing"

	"github.com/meshwarden/meshwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPorts(t *testing.T) {
	tests := []struct {
		spec string
		want []string
	}{
		{"any", []string{"any"}},
		{"ANY", []string{"any"}},
		{"", []string{"any"}},
		{"22", []string{"22"}},
		{"22,80-82", []string{"22", "80", "81", "82"}},
		{"80-82,22", []string{"80", "81", "82", "22"}},
		{"22,22,22", []string{"22"}},
		{"22, 80 - 82", []string{"22", "80", "81", "82"}},
		{"0,65535", []string{"0", "65535"}},
		{"70000", nil},
		{"-1", nil},
		{"abc,22", []string{"22"}},
		{"90-80", nil},
		{"80-", nil},
		{"22,90-80,443", []string{"22", "443"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPorts(tt.spec))
		})
	}
}

func TestNormalizeRulesCanonical(t *testing.T) {
	rules, err := NormalizeRules([]RawRule{
		{AllowedGroup: "web", Protocol: "TCP", PortRange: "443", Description: "https"},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, types.InboundRule{
		AllowedGroup: "web", Protocol: "tcp", PortRange: "443", Description: "https",
	}, rules[0])
}

func TestNormalizeRulesLegacyAliases(t *testing.T) {
	rules, err := NormalizeRules([]RawRule{
		{Group: "db", Proto: "udp", Port: "5432"},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "db", rules[0].AllowedGroup)
	assert.Equal(t, "udp", rules[0].Protocol)
	assert.Equal(t, "5432", rules[0].PortRange)
}

func TestNormalizeRulesRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rule RawRule
	}{
		{"empty group", RawRule{Protocol: "tcp", PortRange: "22"}},
		{"bad protocol", RawRule{AllowedGroup: "web", Protocol: "sctp", PortRange: "22"}},
		{"missing ports", RawRule{AllowedGroup: "web", Protocol: "tcp"}},
		{"no valid ports", RawRule{AllowedGroup: "web", Protocol: "tcp", PortRange: "99999"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRules([]RawRule{tt.rule})
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestNormalizeRulesDefaultsProtocol(t *testing.T) {
	rules, err := NormalizeRules([]RawRule{{AllowedGroup: "web", PortRange: "any"}})
	require.NoError(t, err)
	assert.Equal(t, types.ProtoAny, rules[0].Protocol)
}
