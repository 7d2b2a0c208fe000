package protocol

import "github.com/prometheus/client_golang/prometheus"

// newTestRegistry gives each test its own prometheus registry so metric
// registration never collides across parallel test binaries.
func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
