package nebulacert

import (
	"context"
)

// Keypair is a generated host keypair in PEM form.
type Keypair struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

// CA is generated certificate-authority material in PEM form.
type CA struct {
	CertPEM string
	KeyPEM  string
}

// SignRequest describes one host-certificate signing operation.
type SignRequest struct {
	CACertPEM string
	CAKeyPEM  string

	Name string
	// IPCIDR is the host address with the network's prefix length,
	// e.g. "10.100.0.5/24". Never a host /32.
	IPCIDR        string
	Groups        []string
	DurationHours int
	// PublicKeyPEM is the key being certified (betterkeys or server-generated).
	PublicKeyPEM string
}

// Tool is the capability boundary to the certificate primitive. The control
// plane never implements cryptography; it invokes these three operations and
// treats them as pure functions. Swappable with a fake in tests.
type Tool interface {
	// Keygen generates a fresh host keypair.
	Keygen(ctx context.Context) (*Keypair, error)

	// GenerateCA creates new CA material. The underlying tool refuses to
	// overwrite existing CA files; callers must pre-check for existing
	// material and adopt it instead of calling this.
	GenerateCA(ctx context.Context, name string, durationHours int) (*CA, error)

	// Sign produces a signed host certificate binding name, address and
	// groups to the supplied public key.
	Sign(ctx context.Context, req SignRequest) (string, error)
}
