// Package certs manages the certificate lifecycle for overlay networks:
// per-network CA bootstrap, host-certificate issuance in both
// caller-supplied-key and server-generated-key modes, and revocation with
// re-issuance.
//
// All certificate material passes through the encrypted file store; the
// actual cryptography is delegated to the external cert tool behind the
// nebulacert.Tool interface. Issuance for a given (network, hostname) pair
// is serialized in-process so concurrent requests cannot mint two live
// identities for one node.
package certs
