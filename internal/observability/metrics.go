package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the vault service. Registered
// once on the default registry at startup.
type Metrics struct {
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	Liquidations         prometheus.Counter
	ConservationFailures prometheus.Counter
	Sequence             prometheus.Gauge
	LockedCollateral     prometheus.Gauge
	InsuranceFund        prometheus.Gauge
	FeeTreasury          prometheus.Gauge
	OpenPositions        prometheus.Gauge
	EventsPublished      *prometheus.CounterVec
	PersistErrors        prometheus.Counter
	PersistDuration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		InstructionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_vault_instructions_applied_total",
			Help: "Instructions applied successfully, by operation.",
		}, []string{"op"}),
		InstructionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_vault_instructions_rejected_total",
			Help: "Instructions rejected, by operation and reason.",
		}, []string{"op", "reason"}),
		InstructionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_vault_instruction_duration_seconds",
			Help:    "Apply latency by operation.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
		}, []string{"op"}),
		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_vault_liquidations_total",
			Help: "Positions liquidated.",
		}),
		ConservationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_vault_conservation_failures_total",
			Help: "Post-instruction conservation check failures.",
		}),
		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_vault_sequence",
			Help: "Last applied instruction sequence.",
		}),
		LockedCollateral: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_vault_locked_collateral",
			Help: "Vault total locked collateral (e6 units).",
		}),
		InsuranceFund: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_vault_insurance_fund",
			Help: "Insurance fund balance (e6 units).",
		}),
		FeeTreasury: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_vault_fee_treasury",
			Help: "Fee treasury balance (e6 units).",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_vault_open_positions",
			Help: "Open position records.",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_vault_events_published_total",
			Help: "Outbound events published, by type.",
		}, []string{"type"}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_vault_persist_errors_total",
			Help: "Postgres write failures.",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
}
