package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "engine",
		Name:      "claims_total",
		Help:      "Number of claim attempts by outcome",
	}, []string{"outcome"})

	ownedRoundsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "validator",
		Subsystem: "engine",
		Name:      "owned_rounds",
		Help:      "Number of claimed rounds that are not finished",
	})

	cyclesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Number of discovery cycles by source and result",
	}, []string{"source", "result"})

	instructionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Subsystem: "engine",
		Name:      "instructions_total",
		Help:      "Number of submitted instructions by kind and result",
	}, []string{"kind", "result"})
)
