package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datasync"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "document_operations_total", Help: "Document store operations by operation and outcome."},
		[]string{"op", "outcome"},
	)
	SnapshotDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "snapshot_documents", Help: "Documents written by the last snapshot."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOperations)
	reg.MustRegister(SnapshotDocuments)
}
