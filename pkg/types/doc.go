/*
Package types defines the core data structures used throughout meshwarden.

This package contains the domain model of the control plane: overlay networks,
their nodes, issued certificates, address allocations, and per-group firewall
definitions. These types are shared by the storage layer, the certificate
lifecycle manager, the config synthesizer, and the CLI.

The main types are:

Network topology:
  - Network: an overlay network with a CIDR block and lazily-created CA
  - Node: a participant host with role flags (lighthouse, relay), group
    membership, and an identity lifecycle (pending, active, revoked)

Identity and addressing:
  - Certificate: one issuance record per signing event (reissue history)
  - AllocatedIP: a (network, address) pair marking an address as in use

Firewall model:
  - GroupFirewall: ordered inbound rules scoped to one group of a network
  - InboundRule: allowed source group + protocol + port range

All types are JSON-serializable for persistence. The sentinel errors in this
package form the error taxonomy every component reports against.
*/
package types
