/*
Package metrics provides Prometheus metrics for the control plane.

Counters track address allocation and release, certificate issuance and
revocation, CA generation, config synthesis, and external tool failures.
Gauges track the node and network inventory. Everything is registered on the
default registry at package init and exposed through Handler for scraping.
*/
package metrics
