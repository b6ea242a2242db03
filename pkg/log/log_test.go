package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggersChainDirectly(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("ipam").Debug().Str("network_id", "net-1").Msg("allocated address")
	WithNetworkID("net-1").Info().Msg("network created")
	WithNodeID("node-1").Info().Msg("node registered")

	out := buf.String()
	assert.Contains(t, out, `"component":"ipam"`)
	assert.Contains(t, out, `"network_id":"net-1"`)
	assert.Contains(t, out, `"node_id":"node-1"`)
	assert.Contains(t, out, "node registered")
}

func TestInitDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "bogus", JSONOutput: true, Output: &buf})

	Debug("should be suppressed")
	Info("should appear")

	assert.NotContains(t, buf.String(), "should be suppressed")
	assert.Contains(t, buf.String(), "should appear")
}
