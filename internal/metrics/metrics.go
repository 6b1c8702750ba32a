package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksProcessed counts fully processed block chunks.
	ChunksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskwatch_chunks_processed_total",
			Help: "Total number of block chunks scanned and checkpointed",
		},
	)

	// EventsDecoded counts decoded on-chain events by kind.
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskwatch_events_decoded_total",
			Help: "Total number of decoded stake/burn events",
		},
		[]string{"kind"},
	)

	// TasksRecorded counts task rows written to the store by task kind.
	TasksRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskwatch_tasks_recorded_total",
			Help: "Total number of task records inserted",
		},
		[]string{"task"},
	)

	// InsertFailures counts store writes that were logged and dropped.
	InsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskwatch_insert_failures_total",
			Help: "Total number of failed task inserts",
		},
	)

	// ScanErrors counts scan iterations that failed and will be retried.
	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskwatch_scan_errors_total",
			Help: "Total number of failed scan iterations",
		},
	)

	// ChainHead tracks the most recently observed chain head.
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskwatch_chain_head_block",
			Help: "Latest block height reported by the node",
		},
	)

	// CheckpointBlock tracks the persisted progress marker.
	CheckpointBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskwatch_checkpoint_block",
			Help: "Last fully processed block number",
		},
	)

	// QueriesServed counts task lookup requests by outcome.
	QueriesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskwatch_queries_total",
			Help: "Total number of task queries served",
		},
		[]string{"status"},
	)
)
