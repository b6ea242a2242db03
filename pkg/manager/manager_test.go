package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meshwarden/meshwarden/pkg/configgen"
	"github.com/meshwarden/meshwarden/pkg/nebulacert"
	"github.com/meshwarden/meshwarden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fakeTool is an in-process stand-in for the external cert binary
type fakeTool struct {
	mu      sync.Mutex
	keygens int
}

func (f *fakeTool) Keygen(ctx context.Context) (*nebulacert.Keypair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keygens++
	return &nebulacert.Keypair{
		PublicKeyPEM:  fmt.Sprintf("pub-%d", f.keygens),
		PrivateKeyPEM: fmt.Sprintf("key-%d", f.keygens),
	}, nil
}

func (f *fakeTool) GenerateCA(ctx context.Context, name string, durationHours int) (*nebulacert.CA, error) {
	return &nebulacert.CA{CertPEM: "ca-cert-" + name, KeyPEM: "ca-key-" + name}, nil
}

func (f *fakeTool) Sign(ctx context.Context, req nebulacert.SignRequest) (string, error) {
	return fmt.Sprintf("cert-for-%s@%s", req.Name, req.IPCIDR), nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		DataDir:            t.TempDir(),
		EncryptionPassword: "test-password",
		CertTool:           &fakeTool{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func createNetwork(t *testing.T, m *Manager) *types.Network {
	t.Helper()
	network, err := m.CreateNetwork("corp", "10.100.0.0/24", 90)
	require.NoError(t, err)
	return network
}

func createActiveLighthouse(t *testing.T, m *Manager, networkID, hostname string) *types.Node {
	t.Helper()
	node, err := m.CreateNode(NodeSpec{
		NetworkID:      networkID,
		Hostname:       hostname,
		IsLighthouse:   true,
		PublicEndpoint: "203.0.113.1:4242",
	})
	require.NoError(t, err)
	_, err = m.IssueCertificate(context.Background(), node.ID, "", "", 0)
	require.NoError(t, err)
	node, err = m.GetNode(node.ID)
	require.NoError(t, err)
	return node
}

func TestCreateNetworkValidation(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateNetwork("", "10.0.0.0/24", 0)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.CreateNetwork("bad-cidr", "10.0.0.0", 0)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.CreateNetwork("corp", "10.0.0.0/24", 0)
	require.NoError(t, err)
	_, err = m.CreateNetwork("corp", "10.1.0.0/24", 0)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestCreateNodeValidation(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)

	_, err := m.CreateNode(NodeSpec{NetworkID: network.ID})
	assert.ErrorIs(t, err, types.ErrValidation, "hostname required")

	_, err = m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "lh-1", IsLighthouse: true})
	assert.ErrorIs(t, err, types.ErrValidation, "lighthouse needs an endpoint")

	_, err = m.CreateNode(NodeSpec{NetworkID: "missing", Hostname: "a"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	require.NoError(t, err)
	_, err = m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	assert.ErrorIs(t, err, types.ErrConflict, "duplicate hostname in one network")
}

func TestLighthouseFloor(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	lh := createActiveLighthouse(t, m, network.ID, "lh-1")

	_, err := m.SetLighthouse(lh.ID, false, "")
	assert.ErrorIs(t, err, types.ErrConflict, "cannot demote the last lighthouse")

	err = m.DeleteNode(lh.ID)
	assert.ErrorIs(t, err, types.ErrConflict, "cannot delete the last lighthouse")

	_, err = m.CreateNode(NodeSpec{
		NetworkID:      network.ID,
		Hostname:       "lh-2",
		IsLighthouse:   true,
		PublicEndpoint: "203.0.113.2:4242",
	})
	require.NoError(t, err)

	// A second lighthouse exists now, demotion is allowed.
	_, err = m.SetLighthouse(lh.ID, false, "")
	require.NoError(t, err)
}

func TestIssueCertificateConflictsWhenActive(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	node, err := m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	require.NoError(t, err)

	issued, err := m.IssueCertificate(context.Background(), node.ID, "", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.IPAddress)
	assert.NotEmpty(t, issued.PrivateKeyPEM)

	_, err = m.IssueCertificate(context.Background(), node.ID, "", "", 0)
	assert.ErrorIs(t, err, types.ErrConflict, "active node must not be silently re-issued")
}

func TestConcurrentIssueCertificateSingleWinner(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	createActiveLighthouse(t, m, network.ID, "lh-1")

	node, err := m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	require.NoError(t, err)

	const attempts = 6
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.IssueCertificate(context.Background(), node.ID, "", "", 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, types.ErrConflict)
		}
	}
	assert.Equal(t, 1, won, "exactly one racing issuance may win")

	node, err = m.GetNode(node.ID)
	require.NoError(t, err)

	rendered, err := m.GenerateNodeConfig(node.ID, true)
	require.NoError(t, err)
	var doc struct {
		PKI struct {
			Cert string `yaml:"cert"`
		} `yaml:"pki"`
	}
	require.NoError(t, yaml.Unmarshal(rendered, &doc))
	assert.Equal(t, fmt.Sprintf("cert-for-web-1@%s/24", node.IPAddress), doc.PKI.Cert,
		"delivered certificate is bound to the node's live address")
}

func TestIssueCertificateBetterkeys(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	node, err := m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	require.NoError(t, err)

	issued, err := m.IssueCertificate(context.Background(), node.ID, "caller-pub", "", 0)
	require.NoError(t, err)
	assert.Empty(t, issued.PrivateKeyPEM, "no private key handled in caller-key mode")
	assert.Equal(t, "caller-pub", issued.PublicKeyPEM)
	assert.Equal(t, "ca-cert-corp", issued.CAPEM)

	node, err = m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, node.Status)
	assert.Equal(t, issued.IPAddress, node.IPAddress)
}

func TestRevokeAndReissueLifecycle(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	node, err := m.CreateNode(NodeSpec{NetworkID: network.ID, Hostname: "web-1"})
	require.NoError(t, err)

	_, err = m.IssueCertificate(context.Background(), node.ID, "", "", 0)
	require.NoError(t, err)

	token, err := m.IssueDeviceToken(node.ID, time.Hour)
	require.NoError(t, err)
	_, err = m.ValidateDeviceToken(token.Token, node.ID)
	require.NoError(t, err)

	require.NoError(t, m.RevokeNode(node.ID))
	node, err = m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusRevoked, node.Status)
	assert.Empty(t, node.IPAddress)

	issued, err := m.ReissueNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.IPAddress)

	node, err = m.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, node.Status)

	_, err = m.ValidateDeviceToken(token.Token, node.ID)
	assert.Error(t, err, "pre-reissue token must stop verifying")

	history, err := m.CertificateHistory(node.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSetGroupFirewallValidatesRules(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)

	_, err := m.SetGroupFirewall(network.ID, "", nil)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.SetGroupFirewall(network.ID, "web", []configgen.RawRule{
		{Protocol: "tcp", PortRange: "22"},
	})
	assert.ErrorIs(t, err, types.ErrValidation, "empty allowed_group rejected")

	gf, err := m.SetGroupFirewall(network.ID, "web", []configgen.RawRule{
		{Group: "lb", Proto: "tcp", Port: "80,443"},
	})
	require.NoError(t, err)
	require.Len(t, gf.InboundRules, 1)
	assert.Equal(t, "lb", gf.InboundRules[0].AllowedGroup)
}

func TestGenerateNodeConfigRoundTrip(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	createActiveLighthouse(t, m, network.ID, "lh-1")

	node, err := m.CreateNode(NodeSpec{
		NetworkID: network.ID,
		Hostname:  "web-1",
		Groups:    []string{"web"},
	})
	require.NoError(t, err)

	_, err = m.GenerateNodeConfig(node.ID, false)
	assert.ErrorIs(t, err, types.ErrValidation, "pending nodes have no config")

	_, err = m.IssueCertificate(context.Background(), node.ID, "", "", 0)
	require.NoError(t, err)

	rendered, err := m.GenerateNodeConfig(node.ID, false)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(rendered, &doc))
	assert.Contains(t, doc, "pki")
	assert.Contains(t, doc, "lighthouse")
	assert.Contains(t, doc, "static_host_map")

	fetched, version, err := m.GetNodeConfig(node.ID)
	require.NoError(t, err)
	assert.Equal(t, rendered, fetched)
	assert.Equal(t, 1, version)

	_, err = m.GenerateNodeConfig(node.ID, false)
	require.NoError(t, err)
	_, version, err = m.GetNodeConfig(node.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, version, "regeneration bumps the stored version")
}

func TestGenerateNodeConfigInlinePKI(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	lh := createActiveLighthouse(t, m, network.ID, "lh-1")

	rendered, err := m.GenerateNodeConfig(lh.ID, true)
	require.NoError(t, err)

	var doc struct {
		PKI struct {
			CA   string `yaml:"ca"`
			Cert string `yaml:"cert"`
			Key  string `yaml:"key"`
		} `yaml:"pki"`
	}
	require.NoError(t, yaml.Unmarshal(rendered, &doc))
	assert.Equal(t, "ca-cert-corp", doc.PKI.CA)
	assert.Contains(t, doc.PKI.Cert, "cert-for-lh-1")
	assert.Contains(t, doc.PKI.Key, "key-")
}

func TestDeleteNetworkCascades(t *testing.T) {
	m := newTestManager(t)
	network := createNetwork(t, m)
	lh := createActiveLighthouse(t, m, network.ID, "lh-1")
	_, err := m.SetGroupFirewall(network.ID, "web", []configgen.RawRule{
		{Group: "lb", Proto: "tcp", Port: "443"},
	})
	require.NoError(t, err)

	// Cascade ignores the lighthouse floor.
	require.NoError(t, m.DeleteNetwork(network.ID))

	_, err = m.GetNetwork(network.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = m.GetNode(lh.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = m.GetGroupFirewall(network.ID, "web")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
