package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Address allocation metrics
	AddressesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_addresses_allocated_total",
			Help: "Total number of overlay addresses allocated",
		},
	)

	AddressesReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_addresses_released_total",
			Help: "Total number of overlay addresses released",
		},
	)

	// Certificate lifecycle metrics
	CertificatesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_certificates_issued_total",
			Help: "Total number of host certificates issued",
		},
	)

	CertificatesRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_certificates_revoked_total",
			Help: "Total number of host certificates revoked",
		},
	)

	CAsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_cas_generated_total",
			Help: "Total number of certificate authorities generated",
		},
	)

	// External tool metrics
	CertToolFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_certtool_failures_total",
			Help: "Total number of failed nebula-cert invocations",
		},
	)

	// Inventory metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshwarden_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	NetworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshwarden_networks_total",
			Help: "Total number of overlay networks",
		},
	)

	ConfigsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshwarden_configs_generated_total",
			Help: "Total number of node configuration documents generated",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AddressesAllocated,
		AddressesReleased,
		CertificatesIssued,
		CertificatesRevoked,
		CAsGenerated,
		CertToolFailures,
		NodesTotal,
		NetworksTotal,
		ConfigsGenerated,
	)
}

// Handler returns the HTTP handler exposing all registered metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
