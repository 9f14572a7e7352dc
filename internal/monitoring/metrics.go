// Package monitoring exposes the gatekeeper's Prometheus metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the gatekeeper.
type Metrics struct {
	// Submission pipeline
	SubmissionsTotal   *prometheus.CounterVec // outcome: accepted, floor_rejected, anomaly_rejected
	RateLimitWarnings  prometheus.Counter
	AnomaliesLogged    prometheus.Counter

	// Reputation
	ReputationScore  *prometheus.GaugeVec // per tier
	ReputationEvents *prometheus.CounterVec

	// Effort engine
	SessionEntropy     prometheus.Histogram
	SessionCoherence   prometheus.Histogram
	DigestDuration     prometheus.Histogram
	ProverDegradations prometheus.Counter
	Verifications      *prometheus.CounterVec // method: zk, direct; result: valid, invalid
}

// NewMetrics creates and registers all gatekeeper metrics. Call once per
// process.
func NewMetrics() *Metrics {
	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_submissions_total",
				Help: "Submissions processed by the rate gate, by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitWarnings: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_warnings_total",
				Help: "Soft-ceiling warnings attached to allowed submissions",
			},
		),
		AnomaliesLogged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_anomalies_logged_total",
				Help: "Entries written to the anomaly audit log",
			},
		),
		ReputationScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatekeeper_reputation_score",
				Help: "Most recently computed reputation score",
			},
			[]string{"tier"},
		),
		ReputationEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_reputation_events_total",
				Help: "Reputation events applied, by type",
			},
			[]string{"event"},
		),
		SessionEntropy: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_session_entropy",
				Help:    "Normalized interval entropy of digested sessions",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		SessionCoherence: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_session_temporal_coherence",
				Help:    "Temporal coherence of digested sessions",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		DigestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_digest_duration_seconds",
				Help:    "Wall time to generate a process digest, prover call included",
				Buckets: prometheus.DefBuckets,
			},
		),
		ProverDegradations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_prover_degradations_total",
				Help: "Digests downgraded to commitment-only because the prover failed or timed out",
			},
		),
		Verifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_digest_verifications_total",
				Help: "Digest verifications, by method and result",
			},
			[]string{"method", "result"},
		),
	}
}
