/*
Package nebulacert invokes the external nebula-cert binary for the three
cryptographic operations the control plane needs: keypair generation, CA
generation, and host-certificate signing.

The binary is a capability boundary: the control plane treats it as a pure
function behind the Tool interface and never implements certificate
cryptography itself. Tests substitute a fake Tool.

Every invocation is a bounded subprocess call: no shell interpretation,
allow-listed argument characters, an explicit timeout, and stderr captured
and logged on failure. Timeout and non-zero exit surface as hard failures;
nothing is retried here. Inputs and outputs travel through a per-invocation
temp directory, keeping plaintext key material off the encrypted cert store's
disk layout.
*/
package nebulacert
