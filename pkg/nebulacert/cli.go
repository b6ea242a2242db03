package nebulacert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/meshwarden/meshwarden/pkg/log"
	"github.com/meshwarden/meshwarden/pkg/types"
)

const (
	// DefaultBinary is the nebula-cert binary resolved from PATH
	DefaultBinary = "nebula-cert"

	// DefaultTimeout bounds every subprocess invocation
	DefaultTimeout = 30 * time.Second

	maxArgLen = 256
)

// allowedArgChars is the conservative character set permitted in arguments
// derived from user input (hostnames, group names, identifiers).
const allowedArgChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-.:/,"

// CLI runs the nebula-cert binary as a bounded subprocess. Inputs and outputs
// travel through a per-invocation temp directory; the binary never sees the
// encrypted cert store.
type CLI struct {
	binary  string
	timeout time.Duration
}

// NewCLI creates a CLI adapter for the given binary path. An empty path
// resolves nebula-cert from PATH.
func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLI{binary: binary, timeout: DefaultTimeout}
}

// WithTimeout sets the subprocess timeout
func (c *CLI) WithTimeout(timeout time.Duration) *CLI {
	c.timeout = timeout
	return c
}

// validateArg rejects arguments containing anything outside the allowlist.
// The subprocess runs without a shell, so this is defense in depth against
// hostile identifiers reaching the tool's own parsing.
func validateArg(arg string) error {
	if len(arg) > maxArgLen {
		return fmt.Errorf("%w: argument too long (%d chars)", types.ErrValidation, len(arg))
	}
	for _, r := range arg {
		if !strings.ContainsRune(allowedArgChars, r) {
			return fmt.Errorf("%w: disallowed character %q in argument", types.ErrValidation, r)
		}
	}
	return nil
}

// run executes nebula-cert with the given args under the configured timeout.
// Non-zero exit and timeout are hard failures; stderr is logged, never
// retried here.
func (c *CLI) run(ctx context.Context, args []string) error {
	for _, a := range args {
		if err := validateArg(a); err != nil {
			return err
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger := log.WithComponent("nebulacert")
		logger.Error().
			Err(err).
			Str("binary", c.binary).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("nebula-cert invocation failed")
		if execCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s timed out after %s", types.ErrExternalTool, c.binary, c.timeout)
		}
		return fmt.Errorf("%w: %s: %v", types.ErrExternalTool, c.binary, err)
	}
	return nil
}

// Keygen generates a host keypair via "nebula-cert keygen".
func (c *CLI) Keygen(ctx context.Context) (*Keypair, error) {
	tmp, err := os.MkdirTemp("", "meshwarden-keygen-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	pubPath := filepath.Join(tmp, "host.pub")
	keyPath := filepath.Join(tmp, "host.key")

	err = c.run(ctx, []string{
		"keygen",
		"-out-pub", pubPath,
		"-out-key", keyPath,
	})
	if err != nil {
		return nil, err
	}

	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated public key: %w", err)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated private key: %w", err)
	}

	return &Keypair{PublicKeyPEM: string(pub), PrivateKeyPEM: string(key)}, nil
}

// GenerateCA creates CA material via "nebula-cert ca". The command runs in a
// fresh temp directory, so the tool's refuse-to-overwrite behavior never
// triggers here; adoption of existing material is the caller's job.
func (c *CLI) GenerateCA(ctx context.Context, name string, durationHours int) (*CA, error) {
	tmp, err := os.MkdirTemp("", "meshwarden-ca-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	crtPath := filepath.Join(tmp, "ca.crt")
	keyPath := filepath.Join(tmp, "ca.key")

	err = c.run(ctx, []string{
		"ca",
		"-name", name,
		"-out-crt", crtPath,
		"-out-key", keyPath,
		"-duration", fmt.Sprintf("%dh", durationHours),
	})
	if err != nil {
		return nil, err
	}

	crt, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated CA certificate: %w", err)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated CA key: %w", err)
	}

	log.WithComponent("nebulacert").Info().Str("ca", name).Msg("generated CA")
	return &CA{CertPEM: string(crt), KeyPEM: string(key)}, nil
}

// Sign produces a host certificate via "nebula-cert sign".
func (c *CLI) Sign(ctx context.Context, req SignRequest) (string, error) {
	tmp, err := os.MkdirTemp("", "meshwarden-sign-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	caCrt := filepath.Join(tmp, "ca.crt")
	caKey := filepath.Join(tmp, "ca.key")
	pubPath := filepath.Join(tmp, "host.pub")
	outCrt := filepath.Join(tmp, "host.crt")

	if err := os.WriteFile(caCrt, []byte(req.CACertPEM), 0600); err != nil {
		return "", fmt.Errorf("failed to stage CA certificate: %w", err)
	}
	if err := os.WriteFile(caKey, []byte(req.CAKeyPEM), 0600); err != nil {
		return "", fmt.Errorf("failed to stage CA key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(req.PublicKeyPEM), 0600); err != nil {
		return "", fmt.Errorf("failed to stage public key: %w", err)
	}

	args := []string{
		"sign",
		"-ca-crt", caCrt,
		"-ca-key", caKey,
		"-name", req.Name,
		"-ip", req.IPCIDR,
		"-out-crt", outCrt,
		"-duration", fmt.Sprintf("%dh", req.DurationHours),
		"-in-pub", pubPath,
	}
	if len(req.Groups) > 0 {
		args = append(args, "-groups", strings.Join(req.Groups, ","))
	}

	if err := c.run(ctx, args); err != nil {
		return "", err
	}

	crt, err := os.ReadFile(outCrt)
	if err != nil {
		return "", fmt.Errorf("failed to read signed certificate: %w", err)
	}
	return string(crt), nil
}
