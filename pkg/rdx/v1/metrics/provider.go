package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives access to the Prometheus registry that stores and
// the scenario runner register their collectors on.
type RegistryProvider interface {
	// Registry returns the Prometheus registry holding rdx metrics.
	Registry() *prometheus.Registry
}
