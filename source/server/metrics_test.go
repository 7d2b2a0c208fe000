package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelmc/raknet/source/protocol"
)

// newTestMetrics gives each test its own prometheus registry so metric
// registration never collides across parallel test binaries.
func newTestMetrics(t *testing.T) *protocol.Metrics {
	t.Helper()
	return protocol.NewMetrics(prometheus.NewRegistry())
}
