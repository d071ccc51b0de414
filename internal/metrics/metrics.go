package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsReceived counts inbound messages by outcome (admitted, rejected).
var EventsReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "order_relay_events_received_total",
		Help: "Inbound order events by admission outcome",
	},
	[]string{"outcome"},
)

// Resequencer metrics
var (
	ResequencerReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_relay_resequencer_released_total",
		Help: "Messages released by the resequencer in key order",
	})
	ResequencerTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_relay_resequencer_timeouts_total",
		Help: "Group timeouts that forced a partial release",
	})
	ResequencerSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_relay_resequencer_skipped_total",
		Help: "Sequence slots given up on after a group timeout",
	})
	ResequencerLate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_relay_resequencer_late_total",
		Help: "Messages that arrived after their slot was given up on",
	})
	ResequencerGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "order_relay_resequencer_groups",
		Help: "Live sequence groups",
	})
)

// Dispatch metrics
var (
	DispatchProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_relay_dispatch_processed_total",
			Help: "Events processed by the dispatch pool by result (ok, failed)",
		},
		[]string{"result"},
	)
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_relay_dispatch_latency_seconds",
		Help:    "Time spent processing one event",
		Buckets: prometheus.DefBuckets,
	})
	DispatchQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "order_relay_dispatch_queue_depth",
			Help: "Queued tasks per dispatch worker",
		},
		[]string{"worker"},
	)
)

// LedgerRecords counts records appended to ledger files.
var LedgerRecords = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "order_relay_ledger_records_total",
	Help: "Records appended to financial ledger files",
})

func init() {
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(ResequencerReleased, ResequencerTimeouts, ResequencerSkipped, ResequencerLate, ResequencerGroups)
	prometheus.MustRegister(DispatchProcessed, DispatchLatency, DispatchQueueDepth)
	prometheus.MustRegister(LedgerRecords)
}
