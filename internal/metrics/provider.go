package metrics

import (
	rdxmetrics "github.com/gxo-labs/rdx/pkg/rdx/v1/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRegistryProvider implements the RegistryProvider interface
// using a standard Prometheus registry.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates a new metrics provider backed by its
// own Prometheus registry.
func NewPrometheusRegistryProvider() *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

var _ rdxmetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)

// RegisterOrExisting registers c on reg. When an equivalent collector is
// already registered, the existing one is returned instead, so several
// stores sharing one registry report through the same vectors.
func RegisterOrExisting[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return c, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, err
	}
	return existing, nil
}
