package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequestsTotal 远程网关调用次数
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultkb_gateway_requests_total",
			Help: "Total number of embedding/generation gateway requests",
		},
		[]string{"service", "status"}, // status: ok | error | timeout
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultkb_gateway_request_duration_seconds",
			Help:    "Embedding/generation gateway request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"service"},
	)

	EmbeddingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultkb_embedding_cache_total",
			Help: "Embedding cache lookups",
		},
		[]string{"result"}, // hit | miss
	)

	// IndexVectors 当前索引中的向量数
	IndexVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultkb_index_vectors",
			Help: "Number of vectors currently held by the semantic index",
		},
	)

	IndexPersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultkb_index_persist_duration_seconds",
			Help:    "Time spent rewriting the index snapshot",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// SyncOperationsTotal 同步层操作结果
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultkb_sync_operations_total",
			Help: "Record/index synchronization outcomes",
		},
		[]string{"op", "result"}, // result: ok | partial | error
	)

	// IndexInconsistenciesTotal 检索结果在记录库中找不到
	IndexInconsistenciesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultkb_index_inconsistencies_total",
			Help: "Search hits without a matching record",
		},
	)

	OutboxEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultkb_outbox_events",
			Help: "Index outbox events by state",
		},
		[]string{"state"}, // pending | exhausted
	)

	GateInitializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultkb_gate_initializations_total",
			Help: "AI backend initialization attempts",
		},
		[]string{"result"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultkb_queries_total",
			Help: "Question answering requests",
		},
		[]string{"result"}, // ok | no_match | error
	)

	WorkerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultkb_worker_in_flight",
			Help: "Blocking jobs currently running in the worker pool",
		},
	)
)
