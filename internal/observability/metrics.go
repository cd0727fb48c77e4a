package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// --- Engine ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	StateHashDur       prometheus.Histogram
	Sequence           prometheus.Gauge
	ConservationFailed prometheus.Counter

	// --- Custody ---
	CustodyLegs      *prometheus.CounterVec
	CustodyVolume    *prometheus.CounterVec
	CustodyReversals *prometheus.CounterVec

	// --- Rates ---
	SpotRate          prometheus.Gauge
	OraclePrice       *prometheus.GaugeVec
	OracleUpdates     *prometheus.CounterVec
	OracleSequenceGap *prometheus.CounterVec

	// --- Liquidation ---
	Liquidations       *prometheus.CounterVec
	LiquidationRewards *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PublishErrors       prometheus.Counter
	PublishedEvents     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default promhttp handler;
// tests pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	requestBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		// Engine
		OperationsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_operations_applied_total",
			Help: "Settlement operations committed",
		}, []string{"operation"}),

		OperationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_operations_rejected_total",
			Help: "Settlement operations rejected, by error name",
		}, []string{"operation", "reason"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxswap_operation_duration_seconds",
			Help:    "Time to run one settlement operation",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		StateHashDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxswap_state_hash_duration_seconds",
			Help:    "Time to extend the state hash chain",
			Buckets: latencyBuckets,
		}),

		Sequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fxswap_sequence",
			Help: "Sequence of the last committed operation",
		}),

		ConservationFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_conservation_failures_total",
			Help: "Operations aborted by the conservation check",
		}),

		// Custody
		CustodyLegs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_custody_legs_total",
			Help: "Custody transfer legs executed",
		}, []string{"journal_type"}),

		CustodyVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_custody_volume_total",
			Help: "Units moved through custody",
		}, []string{"asset", "journal_type"}),

		CustodyReversals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_custody_reversals_total",
			Help: "Custody batches reversed after the ledger commit failed",
		}, []string{"result"}),

		// Rates
		SpotRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fxswap_spot_rate",
			Help: "Spot rate captured at the near leg (scaled by 1e14)",
		}),

		OraclePrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxswap_oracle_price",
			Help: "Latest oracle price per pair (scaled by 1e14)",
		}, []string{"pair"}),

		OracleUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_oracle_updates_total",
			Help: "Oracle price updates by outcome",
		}, []string{"pair", "result"}),

		OracleSequenceGap: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_oracle_sequence_gaps_total",
			Help: "Gaps observed in the oracle price sequence",
		}, []string{"pair"}),

		// Liquidation
		Liquidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_liquidations_total",
			Help: "Participants liquidated",
		}, []string{"side", "reason"}),

		LiquidationRewards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_liquidation_rewards_total",
			Help: "Units paid to liquidators",
		}, []string{"asset"}),

		// Channels
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxswap_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxswap_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxswap_channel_utilization",
			Help: "Channel buffer utilization ratio",
		}, []string{"channel"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_publish_drops_total",
			Help: "Events dropped because the publish channel was full",
		}),

		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_publish_errors_total",
			Help: "Outbound publish failures",
		}),

		PublishedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_published_events_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_persist_backpressure_total",
			Help: "Times the engine blocked on a full persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_idempotency_duplicates_total",
			Help: "Duplicate requests detected",
		}, []string{"tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fxswap_dedup_lru_size",
			Help: "Current LRU dedup cache size",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_dedup_lru_evictions_total",
			Help: "LRU dedup cache evictions",
		}),

		DedupTier2Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxswap_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "fxswap_persist_journals_written_total",
			Help: "Custody journals written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxswap_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxswap_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fxswap_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		// API
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fxswap_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "code"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxswap_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: requestBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
