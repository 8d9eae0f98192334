package ordering

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors wired into the pipeline's hot
// paths, registered the way the teacher's core/system_health_logging.go
// registers its own collectors.
type Metrics struct {
	BatchesAggregated  prometheus.Counter
	BatchesCompleted   prometheus.Counter
	BatchesExpired     prometheus.Counter
	ProposalsPacked    prometheus.Counter
	RoundSwitches      prometheus.Counter
	StatusPublishes    prometheus.Counter
	ReplayStripDropped prometheus.Counter
	GateBufferOverflow prometheus.Counter
	ProposalPackSize   prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics bundle on reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the global
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_mst_batches_aggregated_total",
			Help: "Batches inserted into local MST state.",
		}),
		BatchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_mst_batches_completed_total",
			Help: "Batches that reached full signature quorum.",
		}),
		BatchesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_mst_batches_expired_total",
			Help: "Batches dropped from MST state by expiration.",
		}),
		ProposalsPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_proposals_packed_total",
			Help: "Proposals packed by the ordering service.",
		}),
		RoundSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_round_switches_total",
			Help: "Round-switch events processed by the ordering gate.",
		}),
		StatusPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_status_publishes_total",
			Help: "Status objects published on the status bus.",
		}),
		ReplayStripDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_replay_strip_dropped_total",
			Help: "Transactions dropped from proposals by replay stripping.",
		}),
		GateBufferOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_gate_buffer_overflow_total",
			Help: "Batches dropped because the propagation-to-gate buffer was full.",
		}),
		ProposalPackSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordering_proposal_pack_size",
			Help:    "Number of transactions packed per proposal.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(
		m.BatchesAggregated,
		m.BatchesCompleted,
		m.BatchesExpired,
		m.ProposalsPacked,
		m.RoundSwitches,
		m.StatusPublishes,
		m.ReplayStripDropped,
		m.GateBufferOverflow,
		m.ProposalPackSize,
	)
	return m
}

// NewNopMetrics returns a Metrics bundle registered against a private
// registry, for callers (mainly tests) that don't care about export.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
