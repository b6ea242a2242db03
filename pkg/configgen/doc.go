// Package configgen synthesizes per-node agent configuration documents from
// control-plane state: node identity and roles, peer topology, and
// group-scoped firewall rules translated into the agent's low-level rule
// format.
//
// Synthesis is pure computation over already-fetched inputs; persistence and
// delivery live elsewhere. Rule validation happens at the boundary via
// NormalizeRules - by the time rules reach Synthesize, bad port tokens are
// dropped silently rather than reported.
package configgen
