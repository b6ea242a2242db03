/*
Package storage provides persistent state storage for the control plane.

State is kept in a single BoltDB file (meshwarden.db) with one bucket per
table:

	networks         network records, keyed by ID
	nodes            node records, keyed by ID
	allocations      address allocations, keyed by "networkID/ip"
	group_firewalls  per-group rule lists, keyed by "networkID/group"
	certificates     issuance history, keyed by "nodeID/certID"
	node_configs     generated configs, keyed by node ID

Values are JSON-encoded. Composite keys give prefix scans for the per-network
and per-node listings without secondary indexes.

The allocations bucket is the serialization point for address assignment:
AllocateFirstFree scans the candidate list and inserts the winning key inside
one write transaction. BoltDB runs a single writer at a time, so two
concurrent allocation attempts against the same network can never both claim
an address - the second transaction sees the first one's record.
*/
package storage
