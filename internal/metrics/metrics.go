package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for token issuance and scan verification
var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelseal_scans_total",
			Help: "Total number of scan verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parcelseal_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
	)

	TokensInvalidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelseal_tokens_invalidated_total",
			Help: "Total number of tokens invalidated by reason",
		},
		[]string{"reason"},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelseal_status_transitions_total",
			Help: "Total number of package status transitions by target status",
		},
		[]string{"status"},
	)

	AuditPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parcelseal_audit_pending_events",
			Help: "Scan events waiting to be written to storage",
		},
	)

	VerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parcelseal_verify_duration_seconds",
			Help:    "Duration of scan verification",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register adds every collector to reg
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ScansTotal,
		TokensIssuedTotal,
		TokensInvalidatedTotal,
		StatusTransitionsTotal,
		AuditPending,
		VerifyDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
