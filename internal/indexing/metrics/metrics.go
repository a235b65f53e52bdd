package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks transport errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakeplay_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// TxSubmitted tracks ledger transactions per identity, operation and outcome
	TxSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_tx_submitted_total",
			Help: "Total number of ledger transactions submitted",
		},
		[]string{"identity", "operation", "outcome"},
	)

	// NonceRetries tracks nonce conflicts that triggered a resubmission
	NonceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_nonce_retries_total",
			Help: "Total number of nonce conflict retries",
		},
		[]string{"identity"},
	)

	// TxConfirmLatency tracks time from submission to confirmation
	TxConfirmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakeplay_tx_confirm_seconds",
			Help:    "Ledger transaction confirmation latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	// MatchOperations tracks coordinator operations by result
	MatchOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_match_operations_total",
			Help: "Total number of match coordinator operations",
		},
		[]string{"operation", "result"},
	)

	// EventsProjected tracks ledger events applied to the read model
	EventsProjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeplay_events_projected_total",
			Help: "Total number of ledger events projected",
		},
		[]string{"type"},
	)

	// EventsDuplicate tracks redelivered events that were ignored
	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakeplay_events_duplicate_total",
			Help: "Total number of duplicate ledger events ignored",
		},
	)

	// ChainLatestBlock tracks the latest block height of the ledger
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakeplay_chain_latest_block",
			Help: "Latest block height of the ledger",
		},
	)

	// IndexerLatestBlock tracks the latest block checkpointed by the projector
	IndexerLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakeplay_indexer_latest_block",
			Help: "Latest block height checkpointed by the projector",
		},
	)

	// QueueDepth tracks waiting players per stake tier
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stakeplay_queue_depth",
			Help: "Number of players waiting per stake tier",
		},
		[]string{"stake"},
	)
)
