/*
Package manager is the control-plane composition root.

A Manager owns the persistent store, the encrypted certificate store, the
address allocator, and the certificate lifecycle, and exposes the operations
the CLI calls: network and node CRUD, certificate issuance and revocation,
group firewall management, config generation, and device tokens.

Cross-cutting constraints are enforced here rather than in the leaf
packages:

  - Hostnames are unique within a network; duplicate registration conflicts.
  - A network always keeps at least one lighthouse. Role toggles and node
    deletions that would drop the count to zero are rejected; the network
    delete cascade is exempt.
  - Firewall rules are validated and normalized on write. By the time rules
    reach config synthesis they are canonical, and synthesis never reports
    validation problems.
  - Generated configs are persisted encrypted and versioned, so a device can
    re-fetch exactly what was generated for it.
*/
package manager
