package datasets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "datasets",
		Name:      "downloads_total",
		Help:      "Number of dataset downloads by result",
	}, []string{"result"})

	gatewayAttemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "datasets",
		Name:      "gateway_attempts_total",
		Help:      "Number of gateway fetch attempts by gateway and result",
	}, []string{"gateway", "result"})

	downloadDurationMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "validator",
		Subsystem: "datasets",
		Name:      "download_duration_seconds",
		Help:      "Duration of successful dataset downloads",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)
