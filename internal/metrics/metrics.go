package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gosnip_executions_total",
			Help: "Total number of snippet executions by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gosnip_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"phase"}, // phase: "compile", "run", "total"
	)

	MemoryBreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gosnip_memory_breaches_total",
			Help: "Total number of executions stopped by the memory sampler",
		},
	)

	MemoryCeiling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gosnip_memory_ceiling_bytes",
			Help: "Memory ceiling applied to the most recent execution",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gosnip_active_sessions",
			Help: "Number of sessions currently holding the worker slot",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gosnip_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
