package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the small set of prometheus collectors the engine emits on
// drop, retransmit, and send-queue events. It is safe to construct more
// than one (each uses its own registry) so tests don't collide with a
// package-level default registerer.
type Metrics struct {
	DroppedDatagrams  *prometheus.CounterVec
	RetransmittedBatches prometheus.Counter
	ActiveSessions    prometheus.Gauge
	FrameBatchBytes   prometheus.Histogram
}

// DropReason labels the DroppedDatagrams counter.
type DropReason string

const (
	DropMalformed      DropReason = "malformed"
	DropRecoveryFull   DropReason = "recovery_store_full"
	DropCompoundFull   DropReason = "compound_table_full"
	DropSendQueueFull  DropReason = "send_queue_full"
	DropSessionLimit   DropReason = "session_limit"
)

// NewMetrics constructs and registers the collectors against reg. Pass
// prometheus.NewRegistry() in tests, prometheus.DefaultRegisterer in
// production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DroppedDatagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet",
			Name:      "dropped_datagrams_total",
			Help:      "Datagrams dropped, by reason.",
		}, []string{"reason"}),
		RetransmittedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raknet",
			Name:      "retransmitted_batches_total",
			Help:      "Frame batches resent in response to a NAK.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raknet",
			Name:      "active_sessions",
			Help:      "Sessions currently in the session table.",
		}),
		FrameBatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raknet",
			Name:      "frame_batch_bytes",
			Help:      "Size in bytes of outbound frame batches.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
	}
	reg.MustRegister(m.DroppedDatagrams, m.RetransmittedBatches, m.ActiveSessions, m.FrameBatchBytes)
	return m
}

// Drop increments the dropped-datagram counter for reason. A nil Metrics
// is a valid no-op receiver so components can be used in tests without
// wiring a registry.
func (m *Metrics) Drop(reason DropReason) {
	if m == nil {
		return
	}
	m.DroppedDatagrams.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) Retransmit() {
	if m == nil {
		return
	}
	m.RetransmittedBatches.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveBatchBytes(n int) {
	if m == nil {
		return
	}
	m.FrameBatchBytes.Observe(float64(n))
}
