/*
Package dns provides the lighthouse DNS server for overlay networks.

Nodes on the overlay can resolve each other by hostname instead of
remembering overlay addresses: a query for "web-1" or "web-1.mesh" answers
with the node's assigned overlay address, read live from the control-plane
store. Queries that do not match a node in the served network, and all
non-A-record queries, are forwarded to upstream DNS servers.

Only active nodes resolve. Revoked and pending nodes have no address, so
their names fall through to the upstream - a stale hostname never answers
with a released address. Records carry a short TTL because addresses change
on certificate re-issuance.

The server is scoped to a single network, matching the deployment model:
it runs next to a lighthouse, and a lighthouse belongs to exactly one
network.
*/
package dns
