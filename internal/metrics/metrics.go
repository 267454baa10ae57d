package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DiscoveryCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nuance_discovery_cycles_total",
	Help: "Number of discovery cycles run",
}, []string{"result"})

var ClaimsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nuance_discovery_claims_total",
	Help: "Number of commit claims handled by discovery",
}, []string{"result"})

var ItemsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nuance_discovery_items_enqueued_total",
	Help: "Number of posts and interactions enqueued by discovery",
}, []string{"kind"})

var ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nuance_items_processed_total",
	Help: "Number of posts and interactions reaching a terminal status",
}, []string{"kind", "status"})

var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "nuance_queue_depth",
	Help: "Number of items waiting in a processing queue",
}, []string{"queue"})

var WaitingInteractions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "nuance_waiting_interactions",
	Help: "Number of interactions blocked on an unresolved parent post",
})

var ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "nuance_processing_duration_seconds",
	Help:    "Time spent running a processing pipeline, including retries",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
}, []string{"kind"})

var AggregationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nuance_aggregation_runs_total",
	Help: "Number of score aggregation cycles by outcome",
}, []string{"result"})

var ScoredNodes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "nuance_scored_nodes",
	Help: "Number of nodes in the last submitted weight vector",
})

// Kind labels
const (
	KindPost        = "post"
	KindInteraction = "interaction"
)
