package types

import "errors"

// Sentinel errors shared across packages. Callers match with errors.Is;
// the API layer translates them to status codes.
var (
	// ErrNotFound indicates a referenced network or node does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate hostname, a taken address, or an
	// operation that would remove a network's last lighthouse
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates malformed input rejected before any state change
	ErrValidation = errors.New("validation failed")

	// ErrExhausted indicates no free address remains in the subnet
	ErrExhausted = errors.New("address space exhausted")

	// ErrExternalTool indicates a non-zero exit or timeout from the CA tool
	ErrExternalTool = errors.New("external tool failed")

	// ErrDecrypt indicates corrupted or wrong-keyed persisted material.
	// Always fatal to the operation; never treated as plaintext.
	ErrDecrypt = errors.New("decryption failed")
)
